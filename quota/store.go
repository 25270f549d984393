package quota

import (
	"context"
	"time"
)

type Store interface {
	CreateQuota(ctx context.Context, q *Quota) error
	GetQuota(ctx context.Context, quotaID int64) (*Quota, error)
	GetQuotaFor(ctx context.Context, subject, feature string) (*Quota, error)
	ListQuotas(ctx context.Context, opts ListOpts) ([]*Quota, error)
	DeleteQuota(ctx context.Context, quotaID int64) error

	// UpdateQuota runs fn against the quota keyed by (subject, feature)
	// while holding it exclusively and persists the result. Updates to
	// different quotas never contend. If fn returns an error nothing is
	// written and that error is returned.
	UpdateQuota(ctx context.Context, subject, feature string, fn func(q *Quota) error) (*Quota, error)

	AppendUsage(ctx context.Context, ev *UsageEvent) error
	ListUsage(ctx context.Context, quotaID int64, opts UsageQueryOpts) ([]*UsageEvent, error)
}

type ListOpts struct {
	Subject string
	Feature string
	Limit   int
	Offset  int
}

type UsageQueryOpts struct {
	Start time.Time
	End   time.Time
	Limit int
}
