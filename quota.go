package bookkeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/quota"
)

// ReserveOption configures a single quota reservation or release.
type ReserveOption func(*reserveConfig)

type reserveConfig struct {
	reference string
}

// WithReference tags the usage journal entry, typically with the
// transaction id that caused the change.
func WithReference(ref string) ReserveOption {
	return func(c *reserveConfig) { c.reference = ref }
}

// ──────────────────────────────────────────────────
// Quota Ledger
// ──────────────────────────────────────────────────

// CheckAndReserve adds delta to the usage of the subject's quota for
// feature. It fails with a *HardLimitError when the new usage would exceed
// the hard limit, and with ErrQuotaNotFound when the subject holds no such
// quota. Crossing the soft limit succeeds with StateSoftLimitExceeded.
func (b *Bookkeeper) CheckAndReserve(ctx context.Context, subject, feature string, delta int64, opts ...ReserveOption) (*quota.Reservation, error) {
	if delta < 0 {
		return nil, fmt.Errorf("%w: reserve %d", ErrInvalidDelta, delta)
	}
	cfg := reserveOptions(opts)

	now := b.now()
	q, err := b.store.UpdateQuota(ctx, subject, feature, func(q *quota.Quota) error {
		if !q.Fits(delta) {
			return &HardLimitError{
				Subject:   subject,
				Feature:   feature,
				Usage:     q.Usage,
				Delta:     delta,
				HardLimit: q.HardLimit,
			}
		}
		q.Usage += delta
		q.Touch(now)
		return nil
	})
	if err != nil {
		var hle *HardLimitError
		if errors.As(err, &hle) {
			b.logger.Info("quota hard limit exceeded",
				"subject", subject,
				"feature", feature,
				"usage", hle.Usage,
				"delta", delta,
				"hard_limit", hle.HardLimit,
			)
			b.plugins.EmitHardLimitExceeded(ctx, subject, feature, hle.Usage, delta, hle.HardLimit)
		}
		return nil, err
	}

	res := &quota.Reservation{Quota: q, Usage: q.Usage, State: q.State()}
	b.journal(ctx, q, delta, res.State, cfg.reference)

	b.plugins.EmitQuotaReserved(ctx, q, delta)
	if res.State == quota.StateSoftLimitExceeded {
		b.logger.Info("quota soft limit exceeded",
			"subject", subject,
			"feature", feature,
			"usage", q.Usage,
			"soft_limit", q.SoftLimit,
		)
		b.plugins.EmitSoftLimitExceeded(ctx, q, delta)
	}

	return res, nil
}

// Release subtracts delta from the usage of the subject's quota for
// feature. Usage never drops below zero; releasing more than is in use
// clamps rather than failing, so duplicate releases are harmless.
func (b *Bookkeeper) Release(ctx context.Context, subject, feature string, delta int64, opts ...ReserveOption) (*quota.Reservation, error) {
	if delta < 0 {
		return nil, fmt.Errorf("%w: release %d", ErrInvalidDelta, delta)
	}
	cfg := reserveOptions(opts)

	now := b.now()
	var released int64
	q, err := b.store.UpdateQuota(ctx, subject, feature, func(q *quota.Quota) error {
		released = q.Release(delta)
		q.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &quota.Reservation{Quota: q, Usage: q.Usage, State: q.State()}
	b.journal(ctx, q, -released, res.State, cfg.reference)
	b.plugins.EmitQuotaReleased(ctx, q, released)

	return res, nil
}

// journal appends a usage event. A failed append is logged; the quota row
// remains authoritative.
func (b *Bookkeeper) journal(ctx context.Context, q *quota.Quota, delta int64, state quota.State, ref string) {
	ev := &quota.UsageEvent{
		ID:         id.NewUsageEventID(),
		QuotaID:    q.ID,
		Subject:    q.Subject,
		Feature:    q.Feature,
		Delta:      delta,
		UsageAfter: q.Usage,
		State:      state,
		Reference:  ref,
		Timestamp:  b.now(),
	}
	if err := b.store.AppendUsage(ctx, ev); err != nil {
		b.logger.Warn("failed to journal quota usage",
			"quota_id", q.ID,
			"subject", q.Subject,
			"feature", q.Feature,
			"error", err,
		)
	}
}

func reserveOptions(opts []ReserveOption) reserveConfig {
	var cfg reserveConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ──────────────────────────────────────────────────
// Quota Management
// ──────────────────────────────────────────────────

// CreateQuota validates and stores a quota.
func (b *Bookkeeper) CreateQuota(ctx context.Context, q *quota.Quota) error {
	if err := validateQuota(q); err != nil {
		return err
	}
	q.Object = quota.ObjectType
	q.Stamp(b.now())
	return b.store.CreateQuota(ctx, q)
}

// GetQuota retrieves a quota by ID.
func (b *Bookkeeper) GetQuota(ctx context.Context, quotaID int64) (*quota.Quota, error) {
	return b.store.GetQuota(ctx, quotaID)
}

// GetQuotaFor retrieves the subject's quota for a feature.
func (b *Bookkeeper) GetQuotaFor(ctx context.Context, subject, feature string) (*quota.Quota, error) {
	return b.store.GetQuotaFor(ctx, subject, feature)
}

// ListQuotas lists quotas.
func (b *Bookkeeper) ListQuotas(ctx context.Context, opts quota.ListOpts) ([]*quota.Quota, error) {
	return b.store.ListQuotas(ctx, opts)
}

// DeleteQuota removes a quota.
func (b *Bookkeeper) DeleteQuota(ctx context.Context, quotaID int64) error {
	return b.store.DeleteQuota(ctx, quotaID)
}

// ListUsage returns the usage journal of a quota, oldest first.
func (b *Bookkeeper) ListUsage(ctx context.Context, quotaID int64, opts quota.UsageQueryOpts) ([]*quota.UsageEvent, error) {
	return b.store.ListUsage(ctx, quotaID, opts)
}

// ProvisionQuotas creates the subject's quotas for every quota-bearing
// feature of a product. Quotas the subject already holds are left alone.
// It returns the quotas it created.
func (b *Bookkeeper) ProvisionQuotas(ctx context.Context, subject string, productID int64) ([]*quota.Quota, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, ValidationError{Field: "subject", Message: "is required"}
	}

	p, err := b.resolveProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	features, err := p.QuotaFeatures()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuota, err)
	}

	var created []*quota.Quota
	for _, f := range features {
		_, err := b.store.GetQuotaFor(ctx, subject, f.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrQuotaNotFound) {
			return created, err
		}

		q := &quota.Quota{
			ID:        b.quotaIDs(),
			QuotaType: f.Quota.QuotaType,
			Feature:   f.Name,
			SoftLimit: f.Quota.SoftLimit,
			HardLimit: f.Quota.HardLimit,
			Unit:      f.Quota.Unit,
			Subject:   subject,
			Name:      p.Name,
		}
		if err := b.CreateQuota(ctx, q); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue
			}
			return created, err
		}
		created = append(created, q)
	}

	b.logger.Info("quotas provisioned",
		"subject", subject,
		"product_id", productID,
		"created", len(created),
	)
	return created, nil
}

func validateQuota(q *quota.Quota) error {
	if q == nil {
		return ErrInvalidInput
	}

	var errs MultiError
	if q.ID <= 0 {
		errs.Add(ValidationError{Field: "id", Message: "must be positive"})
	}
	if strings.TrimSpace(q.Subject) == "" {
		errs.Add(ValidationError{Field: "subject", Message: "is required"})
	}
	if strings.TrimSpace(q.Feature) == "" {
		errs.Add(ValidationError{Field: "feature", Message: "is required"})
	}
	if errs.HasErrors() {
		return errs
	}

	switch {
	case q.SoftLimit < 0 || q.HardLimit < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidQuota)
	case q.SoftLimit > q.HardLimit:
		return fmt.Errorf("%w: soft limit %d exceeds hard limit %d", ErrInvalidQuota, q.SoftLimit, q.HardLimit)
	case q.Usage < 0 || q.Usage > q.HardLimit:
		return fmt.Errorf("%w: usage %d outside [0, %d]", ErrInvalidQuota, q.Usage, q.HardLimit)
	}
	return nil
}
