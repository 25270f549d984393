// Package memory is an in-process store. Rows live in maps guarded by a
// read/write mutex; UpdateOrder and UpdateQuota additionally hold a per-row
// lock so read-modify-write cycles on different rows never wait on each
// other.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/lock"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
	"github.com/DataONEorg/bookkeeper/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu   sync.RWMutex
	rows lock.Local

	products map[int64]*product.Product
	orders   map[int64]*order.Order

	quotas     map[int64]*quota.Quota
	quotaByKey map[string]int64
	usage      map[int64][]*quota.UsageEvent

	payments      map[string]*payment.Record
	paymentsByTxn map[string]string
	orderPayments map[int64][]string

	closed atomic.Bool
}

func New() *Store {
	return &Store{
		products:      make(map[int64]*product.Product),
		orders:        make(map[int64]*order.Order),
		quotas:        make(map[int64]*quota.Quota),
		quotaByKey:    make(map[string]int64),
		usage:         make(map[int64][]*quota.UsageEvent),
		payments:      make(map[string]*payment.Record),
		paymentsByTxn: make(map[string]string),
		orderPayments: make(map[int64][]string),
	}
}

func quotaKey(subject, feature string) string {
	return subject + "\x00" + feature
}

// ==================== Product Store ====================

func (s *Store) CreateProduct(_ context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; exists {
		return bookkeeper.ErrAlreadyExists
	}
	s.products[p.ID] = copyProduct(p)
	return nil
}

func (s *Store) GetProduct(_ context.Context, productID int64) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.products[productID]; ok {
		return copyProduct(p), nil
	}
	return nil, bookkeeper.ErrProductNotFound
}

func (s *Store) ListProducts(_ context.Context, opts product.ListOpts) ([]*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*product.Product, 0, len(s.products))
	for _, p := range s.products {
		if opts.ActiveOnly && !p.Active {
			continue
		}
		result = append(result, copyProduct(p))
	}
	slices.SortFunc(result, func(a, b *product.Product) int { return cmp.Compare(a.ID, b.ID) })

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateProduct(_ context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; !exists {
		return bookkeeper.ErrProductNotFound
	}
	s.products[p.ID] = copyProduct(p)
	return nil
}

// ==================== Order Store ====================

func (s *Store) CreateOrder(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return bookkeeper.ErrAlreadyExists
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID int64) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.orders[orderID]; ok {
		return o.Clone(), nil
	}
	return nil, bookkeeper.ErrOrderNotFound
}

func (s *Store) ListOrders(_ context.Context, opts order.ListOpts) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*order.Order, 0)
	for _, o := range s.orders {
		if opts.Subject != "" && o.Subject != opts.Subject {
			continue
		}
		if opts.Status != "" && o.Status != opts.Status {
			continue
		}
		result = append(result, o.Clone())
	}
	slices.SortFunc(result, func(a, b *order.Order) int { return cmp.Compare(a.ID, b.ID) })

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateOrder(ctx context.Context, orderID int64, fn func(*order.Order) error) (*order.Order, error) {
	unlock, err := s.rows.Lock(ctx, "order:"+strconv.FormatInt(orderID, 10))
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.RLock()
	current, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, bookkeeper.ErrOrderNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.orders[orderID] = next.Clone()
	s.mu.Unlock()

	return next, nil
}

// ==================== Quota Store ====================

func (s *Store) CreateQuota(_ context.Context, q *quota.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey(q.Subject, q.Feature)
	if _, exists := s.quotas[q.ID]; exists {
		return bookkeeper.ErrAlreadyExists
	}
	if _, exists := s.quotaByKey[key]; exists {
		return bookkeeper.ErrAlreadyExists
	}
	c := *q
	s.quotas[q.ID] = &c
	s.quotaByKey[key] = q.ID
	return nil
}

func (s *Store) GetQuota(_ context.Context, quotaID int64) (*quota.Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q, ok := s.quotas[quotaID]; ok {
		c := *q
		return &c, nil
	}
	return nil, bookkeeper.ErrQuotaNotFound
}

func (s *Store) GetQuotaFor(_ context.Context, subject, feature string) (*quota.Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if qid, ok := s.quotaByKey[quotaKey(subject, feature)]; ok {
		c := *s.quotas[qid]
		return &c, nil
	}
	return nil, bookkeeper.ErrQuotaNotFound
}

func (s *Store) ListQuotas(_ context.Context, opts quota.ListOpts) ([]*quota.Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*quota.Quota, 0)
	for _, q := range s.quotas {
		if opts.Subject != "" && q.Subject != opts.Subject {
			continue
		}
		if opts.Feature != "" && q.Feature != opts.Feature {
			continue
		}
		c := *q
		result = append(result, &c)
	}
	slices.SortFunc(result, func(a, b *quota.Quota) int { return cmp.Compare(a.ID, b.ID) })

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteQuota(_ context.Context, quotaID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[quotaID]
	if !ok {
		return bookkeeper.ErrQuotaNotFound
	}
	delete(s.quotaByKey, quotaKey(q.Subject, q.Feature))
	delete(s.quotas, quotaID)
	delete(s.usage, quotaID)
	return nil
}

func (s *Store) UpdateQuota(ctx context.Context, subject, feature string, fn func(*quota.Quota) error) (*quota.Quota, error) {
	key := quotaKey(subject, feature)
	unlock, err := s.rows.Lock(ctx, "quota:"+key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.RLock()
	qid, ok := s.quotaByKey[key]
	var next quota.Quota
	if ok {
		next = *s.quotas[qid]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, bookkeeper.ErrQuotaNotFound
	}

	if err := fn(&next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, still := s.quotas[qid]; !still {
		return nil, bookkeeper.ErrQuotaNotFound
	}
	stored := next
	s.quotas[qid] = &stored
	return &next, nil
}

func (s *Store) AppendUsage(_ context.Context, ev *quota.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *ev
	s.usage[ev.QuotaID] = append(s.usage[ev.QuotaID], &c)
	return nil
}

func (s *Store) ListUsage(_ context.Context, quotaID int64, opts quota.UsageQueryOpts) ([]*quota.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*quota.UsageEvent, 0)
	for _, ev := range s.usage[quotaID] {
		if !opts.Start.IsZero() && ev.Timestamp.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && !ev.Timestamp.Before(opts.End) {
			continue
		}
		c := *ev
		result = append(result, &c)
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

// ==================== Payment Store ====================

func (s *Store) RecordPayment(_ context.Context, r *payment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.ID.String()
	if _, exists := s.payments[key]; exists {
		return bookkeeper.ErrAlreadyExists
	}
	if r.TransactionID != "" {
		if _, exists := s.paymentsByTxn[r.TransactionID]; exists {
			return bookkeeper.ErrAlreadyExists
		}
		s.paymentsByTxn[r.TransactionID] = key
	}
	c := *r
	s.payments[key] = &c
	s.orderPayments[r.OrderID] = append(s.orderPayments[r.OrderID], key)
	return nil
}

func (s *Store) GetPayment(_ context.Context, paymentID id.PaymentID) (*payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.payments[paymentID.String()]; ok {
		c := *r
		return &c, nil
	}
	return nil, bookkeeper.ErrPaymentNotFound
}

func (s *Store) LatestPayment(_ context.Context, orderID int64) (*payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *payment.Record
	for _, key := range s.orderPayments[orderID] {
		r := s.payments[key]
		if latest == nil || !r.ReceivedAt.Before(latest.ReceivedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, bookkeeper.ErrPaymentNotFound
	}
	c := *latest
	return &c, nil
}

func (s *Store) ListPayments(_ context.Context, orderID int64) ([]*payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Record, 0, len(s.orderPayments[orderID]))
	for _, key := range s.orderPayments[orderID] {
		c := *s.payments[key]
		result = append(result, &c)
	}
	slices.SortStableFunc(result, func(a, b *payment.Record) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	return result, nil
}

// ==================== Core ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	if s.closed.Load() {
		return bookkeeper.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func paginate[T any](rows []T, offset, limit int) []T {
	start := min(max(offset, 0), len(rows))
	end := len(rows)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return rows[start:end]
}

func copyProduct(p *product.Product) *product.Product {
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
