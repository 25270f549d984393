// Package product models purchasable subscription plans and the features
// and quota templates carried in their metadata.
package product

import (
	"encoding/json"
	"fmt"

	"github.com/DataONEorg/bookkeeper/types"
)

// ObjectType is the object tag carried by every Product.
const ObjectType = "product"

// MetadataFeaturesKey is the metadata key holding the feature list.
const MetadataFeaturesKey = "features"

type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

type Product struct {
	types.Entity
	ID                  int64          `json:"id"`
	Object              string         `json:"object"`
	Active              bool           `json:"active"`
	Name                string         `json:"name"`
	Amount              int64          `json:"amount"`
	Currency            string         `json:"currency"`
	Caption             string         `json:"caption,omitempty"`
	Description         string         `json:"description,omitempty"`
	Interval            Interval       `json:"interval,omitempty"`
	StatementDescriptor string         `json:"statement_descriptor,omitempty"`
	UnitLabel           string         `json:"unit_label,omitempty"`
	URL                 string         `json:"url,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// Feature is a named capability attached to a product. A feature without
// a quota is a boolean capability.
type Feature struct {
	Name        string         `json:"name"`
	Label       string         `json:"label,omitempty"`
	Description string         `json:"description,omitempty"`
	Quota       *QuotaTemplate `json:"quota,omitempty"`
}

// QuotaTemplate describes the quota a subject receives for a feature.
type QuotaTemplate struct {
	QuotaType string `json:"quotaType,omitempty"`
	SoftLimit int64  `json:"softLimit"`
	HardLimit int64  `json:"hardLimit"`
	Unit      string `json:"unit,omitempty"`
}

// Features decodes the feature list held in the product metadata.
// A product without a "features" entry has no features.
func (p *Product) Features() ([]Feature, error) {
	raw, ok := p.Metadata[MetadataFeaturesKey]
	if !ok || raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("product %d: encode features: %w", p.ID, err)
	}
	var features []Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("product %d: decode features: %w", p.ID, err)
	}
	return features, nil
}

// QuotaFeatures returns the features that carry a quota.
func (p *Product) QuotaFeatures() ([]Feature, error) {
	features, err := p.Features()
	if err != nil {
		return nil, err
	}
	out := features[:0]
	for _, f := range features {
		if f.Quota != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// SetFeatures replaces the feature list in the product metadata.
func (p *Product) SetFeatures(features []Feature) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[MetadataFeaturesKey] = features
}
