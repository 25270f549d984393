package bookkeeper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/DataONEorg/bookkeeper/payment"
)

// DefaultMaxPayloadBytes bounds a processor payload accepted by Normalize.
const DefaultMaxPayloadBytes = 1 << 20

// Normalizer turns processor notifications into canonical payments. It
// holds its decoding configuration explicitly and is safe for concurrent
// use.
type Normalizer struct {
	useNumber bool
	maxBytes  int
	logger    *slog.Logger
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

// WithUseNumber keeps JSON numbers as json.Number so unrecognized fields
// re-serialize exactly as received. Enabled by default.
func WithUseNumber(on bool) NormalizerOption {
	return func(n *Normalizer) { n.useNumber = on }
}

// WithMaxPayloadBytes sets the largest payload Normalize accepts. Zero or
// less removes the bound.
func WithMaxPayloadBytes(limit int) NormalizerOption {
	return func(n *Normalizer) { n.maxBytes = limit }
}

// WithNormalizerLogger sets the logger.
func WithNormalizerLogger(logger *slog.Logger) NormalizerOption {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNormalizer returns a Normalizer with the given options applied.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		useNumber: true,
		maxBytes:  DefaultMaxPayloadBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize decodes a raw processor payload and normalizes it. The payload
// must be a single JSON object.
func (n *Normalizer) Normalize(raw []byte) (*payment.Payment, error) {
	if n.maxBytes > 0 && len(raw) > n.maxBytes {
		return nil, malformed("payload is %d bytes, limit is %d", len(raw), n.maxBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if n.useNumber {
		dec.UseNumber()
	}

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPaymentPayload, err)
	}
	if doc == nil {
		return nil, malformed("payload is not an object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, malformed("trailing data after payload object")
	}

	return n.NormalizeMap(doc)
}

// NormalizeMap normalizes an already-decoded payload.
//
// When the payload carries a non-empty "responses" array, its first element
// supplies the fields and overlays the top level; the array itself is
// consumed, and that element may not carry its own "responses". Otherwise
// the payload is the field source. Recognized fields
// are copied as text, everything else lands in the extension map.
func (n *Normalizer) NormalizeMap(doc map[string]any) (*payment.Payment, error) {
	if doc == nil {
		return nil, malformed("payload is not an object")
	}

	src, err := n.fieldSource(doc)
	if err != nil {
		return nil, err
	}

	p := &payment.Payment{}
	for _, k := range slices.Sorted(maps.Keys(src)) {
		v := src[k]

		switch {
		case k == payment.KeyTransactionApproved:
			if v == nil {
				continue
			}
			text, err := scalarText(k, v)
			if err != nil {
				return nil, err
			}
			approved, err := strconv.ParseBool(strings.TrimSpace(text))
			if err != nil {
				return nil, malformed("field %q: %q is not a boolean", k, text)
			}
			p.TransactionApproved = &approved

		case payment.Recognized(k):
			if v == nil {
				continue
			}
			text, err := scalarText(k, v)
			if err != nil {
				return nil, err
			}
			p.Set(k, text)

		default:
			if p.Extensions == nil {
				p.Extensions = make(map[string]any)
			}
			p.Extensions[k] = v
		}
	}

	for _, k := range payment.RequiredKeys {
		if v, _ := p.Get(k); strings.TrimSpace(v) == "" {
			return nil, malformed("required field %q is missing or empty", k)
		}
	}

	return p, nil
}

func (n *Normalizer) fieldSource(doc map[string]any) (map[string]any, error) {
	list, ok := doc[payment.KeyResponses].([]any)
	if !ok || len(list) == 0 {
		return doc, nil
	}

	first, ok := list[0].(map[string]any)
	if !ok {
		return nil, malformed("%s[0] is not an object", payment.KeyResponses)
	}
	if _, nested := first[payment.KeyResponses]; nested {
		return nil, malformed("%s[0] holds a nested %s", payment.KeyResponses, payment.KeyResponses)
	}
	if len(list) > 1 {
		n.logger.Debug("discarding extra processor responses",
			"count", len(list)-1,
		)
	}

	src := make(map[string]any, len(doc)+len(first))
	for k, v := range doc {
		if k != payment.KeyResponses {
			src[k] = v
		}
	}
	for k, v := range first {
		src[k] = v
	}
	return src, nil
}

// scalarText renders a recognized field as text. Processors send amounts
// and counts as numbers or strings interchangeably.
func scalarText(key string, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", malformed("field %q: expected a scalar, got %T", key, v)
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedPaymentPayload}, args...)...)
}
