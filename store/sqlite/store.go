// Package sqlite implements store.Store on SQLite via Grove ORM and the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// querier is satisfied by both *sqlitedriver.SqliteDB and *sqlitedriver.SqliteTx.
type querier interface {
	NewSelect(model ...any) *sqlitedriver.SelectQuery
	NewInsert(model any) *sqlitedriver.InsertQuery
	NewUpdate(model any) *sqlitedriver.UpdateQuery
	NewDelete(model any) *sqlitedriver.DeleteQuery
	NewRaw(query string, args ...any) *sqlitedriver.RawQuery
}

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db   *grove.DB
	sdb  *sqlitedriver.SqliteDB
	q    querier
	inTx bool
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	sdb := sqlitedriver.Unwrap(db)
	return &Store{db: db, sdb: sdb, q: sdb}
}

// Open opens the database file at path with foreign keys on, a busy
// timeout, and transactions that take the write lock when they begin.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", path)

	var opts []driver.Option
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		opts = append(opts, driver.WithPoolSize(1))
	}

	drv := sqlitedriver.New()
	if err := drv.Open(ctx, dsn, opts...); err != nil {
		return nil, fmt.Errorf("bursar/sqlite: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		return nil, fmt.Errorf("bursar/sqlite: open grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("%w: sqlite: create migration executor: %w", bursar.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", bursar.ErrMigrationFailed, err)
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

// ==================== Transactions ====================

func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", bursar.ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, sdb: s.sdb, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// LockTerm is satisfied by the immediate transaction, which already holds
// the database write lock.
func (s *Store) LockTerm(context.Context, string, int, int) error { return nil }

// ==================== Fee structures ====================

func (s *Store) CreateStructure(ctx context.Context, fs *feestructure.FeeStructure) error {
	_, err := s.q.NewInsert(toStructureModel(fs)).Exec(ctx)
	return translate(err)
}

func (s *Store) GetStructure(ctx context.Context, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	m := new(structureModel)
	err := s.q.NewSelect(m).
		Where("id = ?", structureID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrStructureNotFound
		}
		return nil, err
	}
	return fromStructureModel(m)
}

func (s *Store) ListStructures(ctx context.Context, schoolID string, opts feestructure.ListOpts) ([]*feestructure.FeeStructure, error) {
	var models []structureModel
	q := s.q.NewSelect(&models).Where("school_id = ?", schoolID)

	if opts.Year != 0 {
		q = q.Where("year = ?", opts.Year)
	}
	if opts.Term != 0 {
		q = q.Where("term = ?", opts.Term)
	}
	if opts.Level != "" {
		q = q.Where("level = ?", feestructure.NormalizeLevel(opts.Level))
	}
	if opts.Published != nil {
		q = q.Where("is_published = ?", *opts.Published)
	}
	if opts.Default != nil {
		q = q.Where("is_default = ?", *opts.Default)
	}
	if opts.Search != "" {
		q = q.Where("name LIKE ?", "%"+strings.TrimSpace(opts.Search)+"%")
	}
	q = paginate(q, opts.Limit, opts.Offset).OrderExpr("year DESC, term DESC, id")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*feestructure.FeeStructure, len(models))
	for i := range models {
		fs, err := fromStructureModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = fs
	}
	return result, nil
}

func (s *Store) UpdateStructure(ctx context.Context, fs *feestructure.FeeStructure) error {
	res, err := s.q.NewUpdate(toStructureModel(fs)).
		Column("name", "level", "is_default", "is_published", "published_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return translate(err)
	}
	return expectRow(res, bursar.ErrStructureNotFound)
}

func (s *Store) DeleteStructure(ctx context.Context, structureID id.FeeStructureID) error {
	res, err := s.q.NewDelete((*structureModel)(nil)).
		Where("id = ?", structureID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, bursar.ErrStructureNotFound)
}

// ==================== Fee items ====================

func (s *Store) CreateItem(ctx context.Context, item *feestructure.FeeItem) error {
	_, err := s.q.NewInsert(toItemModel(item)).Exec(ctx)
	return translate(err)
}

func (s *Store) GetItem(ctx context.Context, itemID id.FeeItemID) (*feestructure.FeeItem, error) {
	m := new(itemModel)
	err := s.q.NewSelect(m).
		Where("id = ?", itemID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrItemNotFound
		}
		return nil, err
	}
	return fromItemModel(m)
}

func (s *Store) ListItems(ctx context.Context, structureID id.FeeStructureID) ([]*feestructure.FeeItem, error) {
	var models []itemModel
	err := s.q.NewSelect(&models).
		Where("structure_id = ?", structureID.String()).
		OrderExpr("id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*feestructure.FeeItem, len(models))
	for i := range models {
		it, err := fromItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = it
	}
	return result, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *feestructure.FeeItem) error {
	res, err := s.q.NewUpdate(toItemModel(item)).
		Column("class_id", "item_name", "amount", "currency", "category",
			"billing_cycle", "is_optional", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return translate(err)
	}
	return expectRow(res, bursar.ErrItemNotFound)
}

func (s *Store) DeleteItem(ctx context.Context, itemID id.FeeItemID) error {
	res, err := s.q.NewDelete((*itemModel)(nil)).
		Where("id = ?", itemID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, bursar.ErrItemNotFound)
}

func (s *Store) DeleteItems(ctx context.Context, structureID id.FeeStructureID) (int, error) {
	res, err := s.q.NewDelete((*itemModel)(nil)).
		Where("structure_id = ?", structureID.String()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) CountItems(ctx context.Context, structureID id.FeeStructureID) (int, error) {
	n, err := s.q.NewSelect((*itemModel)(nil)).
		Where("structure_id = ?", structureID.String()).
		Count(ctx)
	return int(n), err
}

// ==================== Invoices ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	return s.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		q := tx.(*Store).q
		if _, err := q.NewInsert(toInvoiceModel(inv)).Exec(ctx); err != nil {
			return translate(err)
		}
		if len(inv.Lines) == 0 {
			return nil
		}
		lines := toLineModels(inv)
		_, err := q.NewInsert(&lines).MultiRow().Exec(ctx)
		return translate(err)
	})
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.q.NewSelect(m).
		Where("id = ?", invID.String()).
		Scan(ctx)
	return s.invoiceFromRow(ctx, m, err)
}

func (s *Store) GetStudentInvoice(ctx context.Context, schoolID, studentID string, year, term int) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.q.NewSelect(m).
		Where("school_id = ?", schoolID).
		Where("student_id = ?", studentID).
		Where("year = ?", year).
		Where("term = ?", term).
		Scan(ctx)
	return s.invoiceFromRow(ctx, m, err)
}

func (s *Store) invoiceFromRow(ctx context.Context, m *invoiceModel, err error) (*invoice.Invoice, error) {
	if err != nil {
		if isNoRows(err) {
			return nil, bursar.ErrInvoiceNotFound
		}
		return nil, err
	}
	inv, err := fromInvoiceModel(m)
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, []*invoice.Invoice{inv}); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) loadLines(ctx context.Context, invs []*invoice.Invoice) error {
	if len(invs) == 0 {
		return nil
	}
	ids := make([]any, len(invs))
	byID := make(map[id.InvoiceID]*invoice.Invoice, len(invs))
	for i, inv := range invs {
		ids[i] = inv.ID.String()
		byID[inv.ID] = inv
	}

	var models []lineModel
	err := s.q.NewSelect(&models).
		Where("invoice_id IN ("+placeholders(len(ids))+")", ids...).
		OrderExpr("invoice_id, position").
		Scan(ctx)
	if err != nil {
		return err
	}
	for i := range models {
		l, err := fromLineModel(&models[i])
		if err != nil {
			return err
		}
		if inv, ok := byID[l.InvoiceID]; ok {
			inv.Lines = append(inv.Lines, l)
		}
	}
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, schoolID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.q.NewSelect(&models).Where("school_id = ?", schoolID)

	if opts.Year != 0 {
		q = q.Where("year = ?", opts.Year)
	}
	if opts.Term != 0 {
		q = q.Where("term = ?", opts.Term)
	}
	if opts.ClassID != "" {
		q = q.Where("class_id = ?", opts.ClassID)
	}
	if opts.StudentID != "" {
		q = q.Where("student_id = ?", opts.StudentID)
	}
	if len(opts.Status) > 0 {
		statuses := make([]any, len(opts.Status))
		for i, st := range opts.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ("+placeholders(len(statuses))+")", statuses...)
	}
	q = paginate(q, opts.Limit, opts.Offset).OrderExpr("id")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	if err := s.loadLines(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	res, err := s.q.NewUpdate(toInvoiceModel(inv)).
		Column("status", "due_date", "issued_at", "cancelled_at", "cancel_reason", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, bursar.ErrInvoiceNotFound)
}

func (s *Store) CountTermInvoices(ctx context.Context, schoolID string, year, term int) (int, error) {
	n, err := s.q.NewSelect((*invoiceModel)(nil)).
		Where("school_id = ?", schoolID).
		Where("year = ?", year).
		Where("term = ?", term).
		Count(ctx)
	return int(n), err
}

// ==================== Payments ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.q.NewInsert(toPaymentModel(p)).Exec(ctx)
	return translate(err)
}

func (s *Store) ListInvoicePayments(ctx context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.q.NewSelect(&models).
		Where("invoice_id = ?", invoiceID.String()).
		OrderExpr("posted_at, id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromPaymentModels(models)
}

func (s *Store) ListStudentPayments(ctx context.Context, schoolID, studentID string) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.q.NewSelect(&models).
		Where("school_id = ?", schoolID).
		Where("student_id = ?", studentID).
		OrderExpr("posted_at, id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return fromPaymentModels(models)
}

func fromPaymentModels(models []paymentModel) ([]*payment.Payment, error) {
	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Helpers ====================

// paginate applies limit and offset. SQLite rejects OFFSET without LIMIT.
func paginate(q *sqlitedriver.SelectQuery, limit, offset int) *sqlitedriver.SelectQuery {
	if offset > 0 {
		if limit <= 0 {
			limit = math.MaxInt32
		}
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// expectRow returns notFound when res touched no rows.
func expectRow(res rowsAffecter, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// translate maps SQLite constraint failures onto the Bursar sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		switch {
		case strings.Contains(msg, "uq_bursar_structures_name"):
			return fmt.Errorf("%w: %s", bursar.ErrStructureExists, msg)
		case strings.Contains(msg, "uq_bursar_items_key"):
			return fmt.Errorf("%w: %s", bursar.ErrItemExists, msg)
		case strings.Contains(msg, "bursar_invoices."):
			return fmt.Errorf("%w: %s", bursar.ErrInvoiceExists, msg)
		default:
			return fmt.Errorf("%w: %s", bursar.ErrAlreadyExists, msg)
		}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", bursar.ErrNotFound, msg)
	}
	return err
}
