package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
	bkstore "github.com/DataONEorg/bookkeeper/store"
)

// Collection name constants.
const (
	colProducts    = "bookkeeper_products"
	colOrders      = "bookkeeper_orders"
	colQuotas      = "bookkeeper_quotas"
	colUsageEvents = "bookkeeper_usage_events"
	colPayments    = "bookkeeper_payments"
)

// DefaultUpdateAttempts bounds the compare-and-swap loop of UpdateOrder and
// UpdateQuota.
const DefaultUpdateAttempts = 16

// compile-time interface check
var _ bkstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM. Read-modify-
// write updates match on the document version and retry on a lost race.
type Store struct {
	db       *grove.DB
	mdb      *mongodriver.MongoDB
	attempts int
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:       db,
		mdb:      mongodriver.Unwrap(db),
		attempts: DefaultUpdateAttempts,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all bookkeeper collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo: %s indexes: %w", bookkeeper.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Product Store ====================

func (s *Store) CreateProduct(ctx context.Context, p *product.Product) error {
	m, err := toProductModel(p)
	if err != nil {
		return err
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return mapWriteErr("create product", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	var m productModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": productID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bookkeeper.ErrProductNotFound
		}
		return nil, fmt.Errorf("bookkeeper/mongo: get product: %w", err)
	}
	return fromProductModel(&m)
}

func (s *Store) ListProducts(ctx context.Context, opts product.ListOpts) ([]*product.Product, error) {
	var models []productModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bookkeeper/mongo: list products: %w", err)
	}

	result := make([]*product.Product, len(models))
	for i := range models {
		p, err := fromProductModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *product.Product) error {
	m, err := toProductModel(p)
	if err != nil {
		return err
	}
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bookkeeper/mongo: update product: %w", err)
	}
	if res.MatchedCount() == 0 {
		return bookkeeper.ErrProductNotFound
	}
	return nil
}

// ==================== Order Store ====================

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	if _, err := s.mdb.NewInsert(toOrderModel(o)).Exec(ctx); err != nil {
		return mapWriteErr("create order", err)
	}
	return nil
}

func (s *Store) getOrderModel(ctx context.Context, orderID int64) (*orderModel, error) {
	var m orderModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": orderID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bookkeeper.ErrOrderNotFound
		}
		return nil, fmt.Errorf("bookkeeper/mongo: get order: %w", err)
	}
	return &m, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	m, err := s.getOrderModel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return fromOrderModel(m), nil
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel

	filter := bson.M{}
	if opts.Subject != "" {
		filter["subject"] = opts.Subject
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bookkeeper/mongo: list orders: %w", err)
	}

	result := make([]*order.Order, len(models))
	for i := range models {
		result[i] = fromOrderModel(&models[i])
	}
	return result, nil
}

func (s *Store) UpdateOrder(ctx context.Context, orderID int64, fn func(*order.Order) error) (*order.Order, error) {
	for range s.attempts {
		current, err := s.getOrderModel(ctx, orderID)
		if err != nil {
			return nil, err
		}
		o := fromOrderModel(current)
		if err := fn(o); err != nil {
			return nil, err
		}

		next := toOrderModel(o)
		next.Version = current.Version + 1
		swapped, err := s.swap(ctx, next, orderID, current.Version)
		if err != nil {
			return nil, fmt.Errorf("bookkeeper/mongo: update order: %w", err)
		}
		if swapped {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: order %d", bookkeeper.ErrConflict, orderID)
}

// ==================== Quota Store ====================

func (s *Store) CreateQuota(ctx context.Context, q *quota.Quota) error {
	if _, err := s.mdb.NewInsert(toQuotaModel(q)).Exec(ctx); err != nil {
		return mapWriteErr("create quota", err)
	}
	return nil
}

func (s *Store) GetQuota(ctx context.Context, quotaID int64) (*quota.Quota, error) {
	var m quotaModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": quotaID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bookkeeper.ErrQuotaNotFound
		}
		return nil, fmt.Errorf("bookkeeper/mongo: get quota: %w", err)
	}
	return fromQuotaModel(&m), nil
}

func (s *Store) getQuotaModelFor(ctx context.Context, subject, feature string) (*quotaModel, error) {
	var m quotaModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"subject": subject, "feature": feature}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bookkeeper.ErrQuotaNotFound
		}
		return nil, fmt.Errorf("bookkeeper/mongo: get quota: %w", err)
	}
	return &m, nil
}

func (s *Store) GetQuotaFor(ctx context.Context, subject, feature string) (*quota.Quota, error) {
	m, err := s.getQuotaModelFor(ctx, subject, feature)
	if err != nil {
		return nil, err
	}
	return fromQuotaModel(m), nil
}

func (s *Store) ListQuotas(ctx context.Context, opts quota.ListOpts) ([]*quota.Quota, error) {
	var models []quotaModel

	filter := bson.M{}
	if opts.Subject != "" {
		filter["subject"] = opts.Subject
	}
	if opts.Feature != "" {
		filter["feature"] = opts.Feature
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bookkeeper/mongo: list quotas: %w", err)
	}

	result := make([]*quota.Quota, len(models))
	for i := range models {
		result[i] = fromQuotaModel(&models[i])
	}
	return result, nil
}

// DeleteQuota removes the quota and then its usage journal. The two deletes
// are not transactional; a journal left behind by a failed second delete
// is unreachable once the quota id is gone.
func (s *Store) DeleteQuota(ctx context.Context, quotaID int64) error {
	res, err := s.mdb.NewDelete((*quotaModel)(nil)).
		Filter(bson.M{"_id": quotaID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bookkeeper/mongo: delete quota: %w", err)
	}
	if res.DeletedCount() == 0 {
		return bookkeeper.ErrQuotaNotFound
	}

	_, err = s.mdb.NewDelete((*usageEventModel)(nil)).
		Filter(bson.M{"quota_id": quotaID}).
		Many().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bookkeeper/mongo: delete usage: %w", err)
	}
	return nil
}

func (s *Store) UpdateQuota(ctx context.Context, subject, feature string, fn func(*quota.Quota) error) (*quota.Quota, error) {
	for range s.attempts {
		current, err := s.getQuotaModelFor(ctx, subject, feature)
		if err != nil {
			return nil, err
		}
		q := fromQuotaModel(current)
		if err := fn(q); err != nil {
			return nil, err
		}

		next := toQuotaModel(q)
		next.Version = current.Version + 1
		swapped, err := s.swap(ctx, next, current.ID, current.Version)
		if err != nil {
			return nil, fmt.Errorf("bookkeeper/mongo: update quota: %w", err)
		}
		if swapped {
			return q, nil
		}
	}
	return nil, fmt.Errorf("%w: quota %s/%s", bookkeeper.ErrConflict, subject, feature)
}

func (s *Store) AppendUsage(ctx context.Context, ev *quota.UsageEvent) error {
	if _, err := s.mdb.NewInsert(toUsageEventModel(ev)).Exec(ctx); err != nil {
		return mapWriteErr("append usage", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, quotaID int64, opts quota.UsageQueryOpts) ([]*quota.UsageEvent, error) {
	var models []usageEventModel

	filter := bson.M{"quota_id": quotaID}
	window := bson.M{}
	if !opts.Start.IsZero() {
		window["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		window["$lt"] = opts.End
	}
	if len(window) > 0 {
		filter["timestamp"] = window
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bookkeeper/mongo: list usage: %w", err)
	}

	result := make([]*quota.UsageEvent, len(models))
	for i := range models {
		ev, err := fromUsageEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ev
	}
	return result, nil
}

// ==================== Payment Store ====================

func (s *Store) RecordPayment(ctx context.Context, r *payment.Record) error {
	m, err := toPaymentModel(r)
	if err != nil {
		return err
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return mapWriteErr("record payment", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Record, error) {
	var m paymentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": paymentID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bookkeeper.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("bookkeeper/mongo: get payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) LatestPayment(ctx context.Context, orderID int64) (*payment.Record, error) {
	var m paymentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"order_id": orderID}).
		Sort(bson.D{{Key: "received_at", Value: -1}, {Key: "_id", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bookkeeper.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("bookkeeper/mongo: latest payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) ListPayments(ctx context.Context, orderID int64) ([]*payment.Record, error) {
	var models []paymentModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"order_id": orderID}).
		Sort(bson.D{{Key: "received_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookkeeper/mongo: list payments: %w", err)
	}

	result := make([]*payment.Record, len(models))
	for i := range models {
		r, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Helpers ====================

// swap replaces the versioned document only if it still carries version.
func (s *Store) swap(ctx context.Context, model any, docID, version int64) (bool, error) {
	res, err := s.mdb.NewUpdate(model).
		Filter(bson.M{"_id": docID, "version": version}).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return res.MatchedCount() == 1, nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func mapWriteErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s: %w", bookkeeper.ErrAlreadyExists, op, err)
	}
	return fmt.Errorf("bookkeeper/mongo: %s: %w", op, err)
}

// migrationIndexes returns the index definitions for all bookkeeper collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colProducts: {
			{Keys: bson.D{{Key: "active", Value: 1}}},
		},
		colOrders: {
			{Keys: bson.D{{Key: "subject", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colQuotas: {
			{
				Keys:    bson.D{{Key: "subject", Value: 1}, {Key: "feature", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colUsageEvents: {
			{Keys: bson.D{{Key: "quota_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "received_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "transaction_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"transaction_id": bson.M{"$gt": ""}}),
			},
		},
	}
}
