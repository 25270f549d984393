package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the "sqlite" migration executor
	"github.com/xraph/grove/migrate"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
	bkstore "github.com/DataONEorg/bookkeeper/store"
)

// compile-time interface check
var _ bkstore.Store = (*Store)(nil)

// DefaultUpdateAttempts bounds the compare-and-swap loop of UpdateOrder and
// UpdateQuota.
const DefaultUpdateAttempts = 16

// Store implements store.Store using SQLite via Grove ORM. SQLite has no
// row locks, so read-modify-write updates compare the row version and
// retry when another writer got there first.
type Store struct {
	db       *grove.DB
	sdb      *sqlitedriver.SqliteDB
	attempts int
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:       db,
		sdb:      sqlitedriver.Unwrap(db),
		attempts: DefaultUpdateAttempts,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("%w: sqlite: create migration executor: %w", bookkeeper.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", bookkeeper.ErrMigrationFailed, err)
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
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	m := new(productModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", productID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrProductNotFound
		}
		return nil, err
	}
	return fromProductModel(m)
}

func (s *Store) ListProducts(ctx context.Context, opts product.ListOpts) ([]*product.Product, error) {
	var models []productModel
	q := s.sdb.NewSelect(&models)

	if opts.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return bookkeeper.ErrProductNotFound
	}
	return nil
}

// ==================== Order Store ====================

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	m, err := toOrderModel(o)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) getOrderModel(ctx context.Context, orderID int64) (*orderModel, error) {
	m := new(orderModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", orderID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrOrderNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	m, err := s.getOrderModel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return fromOrderModel(m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.sdb.NewSelect(&models)

	if opts.Subject != "" {
		q = q.Where("subject = ?", opts.Subject)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*order.Order, len(models))
	for i := range models {
		o, err := fromOrderModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = o
	}
	return result, nil
}

func (s *Store) UpdateOrder(ctx context.Context, orderID int64, fn func(*order.Order) error) (*order.Order, error) {
	for range s.attempts {
		current, err := s.getOrderModel(ctx, orderID)
		if err != nil {
			return nil, err
		}
		o, err := fromOrderModel(current)
		if err != nil {
			return nil, err
		}
		if err := fn(o); err != nil {
			return nil, err
		}

		next, err := toOrderModel(o)
		if err != nil {
			return nil, err
		}
		next.Version = current.Version + 1
		swapped, err := s.swap(ctx, next, current.Version)
		if err != nil {
			return nil, err
		}
		if swapped {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%w: order %d", bookkeeper.ErrConflict, orderID)
}

// ==================== Quota Store ====================

func (s *Store) CreateQuota(ctx context.Context, q *quota.Quota) error {
	_, err := s.sdb.NewInsert(toQuotaModel(q)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetQuota(ctx context.Context, quotaID int64) (*quota.Quota, error) {
	m := new(quotaModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", quotaID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrQuotaNotFound
		}
		return nil, err
	}
	return fromQuotaModel(m), nil
}

func (s *Store) getQuotaModelFor(ctx context.Context, subject, feature string) (*quotaModel, error) {
	m := new(quotaModel)
	err := s.sdb.NewSelect(m).
		Where("subject = ?", subject).
		Where("feature = ?", feature).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrQuotaNotFound
		}
		return nil, err
	}
	return m, nil
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
	q := s.sdb.NewSelect(&models)

	if opts.Subject != "" {
		q = q.Where("subject = ?", opts.Subject)
	}
	if opts.Feature != "" {
		q = q.Where("feature = ?", opts.Feature)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*quota.Quota, len(models))
	for i := range models {
		result[i] = fromQuotaModel(&models[i])
	}
	return result, nil
}

func (s *Store) DeleteQuota(ctx context.Context, quotaID int64) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NewDelete((*quotaModel)(nil)).
		Where("id = ?", quotaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return bookkeeper.ErrQuotaNotFound
	}

	_, err = tx.NewDelete((*usageEventModel)(nil)).
		Where("quota_id = ?", quotaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return tx.Commit()
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
		swapped, err := s.swap(ctx, next, current.Version)
		if err != nil {
			return nil, err
		}
		if swapped {
			return q, nil
		}
	}
	return nil, fmt.Errorf("%w: quota %s/%s", bookkeeper.ErrConflict, subject, feature)
}

func (s *Store) AppendUsage(ctx context.Context, ev *quota.UsageEvent) error {
	_, err := s.sdb.NewInsert(toUsageEventModel(ev)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) ListUsage(ctx context.Context, quotaID int64, opts quota.UsageQueryOpts) ([]*quota.UsageEvent, error) {
	var models []usageEventModel
	q := s.sdb.NewSelect(&models).Where("quota_id = ?", quotaID)

	if !opts.Start.IsZero() {
		q = q.Where("timestamp >= ?", opts.Start.UTC())
	}
	if !opts.End.IsZero() {
		q = q.Where("timestamp < ?", opts.End.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr("timestamp ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Record, error) {
	m := new(paymentModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", paymentID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) LatestPayment(ctx context.Context, orderID int64) (*payment.Record, error) {
	m := new(paymentModel)
	err := s.sdb.NewSelect(m).
		Where("order_id = ?", orderID).
		OrderExpr("received_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) ListPayments(ctx context.Context, orderID int64) ([]*payment.Record, error) {
	var models []paymentModel
	err := s.sdb.NewSelect(&models).
		Where("order_id = ?", orderID).
		OrderExpr("received_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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

// swap writes model only if the stored row still carries version. It
// reports false when another writer bumped the version first.
func (s *Store) swap(ctx context.Context, model any, version int64) (bool, error) {
	res, err := s.sdb.NewUpdate(model).
		WherePK().
		Where("version = ?", version).
		Exec(ctx)
	if err != nil {
		if isBusy(err) {
			return false, nil
		}
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mapWriteErr translates unique and primary key violations into
// ErrAlreadyExists.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var liteErr *moderncsqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", bookkeeper.ErrAlreadyExists, liteErr.Error())
		}
		return err
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", bookkeeper.ErrAlreadyExists, err.Error())
	}
	return err
}

func isBusy(err error) bool {
	var liteErr *moderncsqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	code := liteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
