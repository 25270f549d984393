package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor
	"github.com/xraph/grove/migrate"

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

// Store implements store.Store using PostgreSQL via Grove ORM. Read-modify-
// write updates run in a transaction holding a row lock (SELECT ... FOR
// UPDATE), so concurrent updates of one row serialize in the database.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("%w: postgres: create migration executor: %w", bookkeeper.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", bookkeeper.ErrMigrationFailed, err)
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	m := new(productModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", productID).
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
	q := s.pg.NewSelect(&models)

	if opts.ActiveOnly {
		q = q.Where("active = $1", true)
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
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	m := new(orderModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", orderID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrOrderNotFound
		}
		return nil, err
	}
	return fromOrderModel(m)
}

func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Subject != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("subject = $%d", argIdx), opts.Subject)
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current := new(orderModel)
	err = tx.NewSelect(current).
		Where("id = $1", orderID).
		ForUpdate().
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrOrderNotFound
		}
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
	if _, err := tx.NewUpdate(next).WherePK().Exec(ctx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

// ==================== Quota Store ====================

func (s *Store) CreateQuota(ctx context.Context, q *quota.Quota) error {
	_, err := s.pg.NewInsert(toQuotaModel(q)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetQuota(ctx context.Context, quotaID int64) (*quota.Quota, error) {
	m := new(quotaModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", quotaID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrQuotaNotFound
		}
		return nil, err
	}
	return fromQuotaModel(m), nil
}

func (s *Store) GetQuotaFor(ctx context.Context, subject, feature string) (*quota.Quota, error) {
	m := new(quotaModel)
	err := s.pg.NewSelect(m).
		Where("subject = $1", subject).
		Where("feature = $2", feature).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrQuotaNotFound
		}
		return nil, err
	}
	return fromQuotaModel(m), nil
}

func (s *Store) ListQuotas(ctx context.Context, opts quota.ListOpts) ([]*quota.Quota, error) {
	var models []quotaModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Subject != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("subject = $%d", argIdx), opts.Subject)
	}
	if opts.Feature != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("feature = $%d", argIdx), opts.Feature)
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
	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NewDelete((*quotaModel)(nil)).
		Where("id = $1", quotaID).
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
		Where("quota_id = $1", quotaID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateQuota(ctx context.Context, subject, feature string, fn func(*quota.Quota) error) (*quota.Quota, error) {
	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current := new(quotaModel)
	err = tx.NewSelect(current).
		Where("subject = $1", subject).
		Where("feature = $2", feature).
		ForUpdate().
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bookkeeper.ErrQuotaNotFound
		}
		return nil, err
	}

	q := fromQuotaModel(current)
	if err := fn(q); err != nil {
		return nil, err
	}

	next := toQuotaModel(q)
	next.Version = current.Version + 1
	if _, err := tx.NewUpdate(next).WherePK().Exec(ctx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Store) AppendUsage(ctx context.Context, ev *quota.UsageEvent) error {
	_, err := s.pg.NewInsert(toUsageEventModel(ev)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) ListUsage(ctx context.Context, quotaID int64, opts quota.UsageQueryOpts) ([]*quota.UsageEvent, error) {
	var models []usageEventModel
	q := s.pg.NewSelect(&models).Where("quota_id = $1", quotaID)

	argIdx := 1
	if !opts.Start.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf(`"timestamp" >= $%d`, argIdx), opts.Start)
	}
	if !opts.End.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf(`"timestamp" < $%d`, argIdx), opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr(`"timestamp" ASC, id ASC`)

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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Record, error) {
	m := new(paymentModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", paymentID.String()).
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
	err := s.pg.NewSelect(m).
		Where("order_id = $1", orderID).
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
	err := s.pg.NewSelect(&models).
		Where("order_id = $1", orderID).
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

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// mapWriteErr translates unique constraint violations into
// ErrAlreadyExists.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", bookkeeper.ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}
