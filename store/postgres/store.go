// Package postgres implements store.Store on PostgreSQL via Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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

// querier is satisfied by both *pgdriver.PgDB and *pgdriver.PgTx.
type querier interface {
	NewSelect(model ...any) *pgdriver.SelectQuery
	NewInsert(model any) *pgdriver.InsertQuery
	NewUpdate(model any) *pgdriver.UpdateQuery
	NewDelete(model any) *pgdriver.DeleteQuery
	NewRaw(query string, args ...any) *pgdriver.RawQuery
}

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db   *grove.DB
	pg   *pgdriver.PgDB
	q    querier
	inTx bool
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	pg := pgdriver.Unwrap(db)
	return &Store{db: db, pg: pg, q: pg}
}

// Open connects to dsn and returns a store that owns the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	drv := pgdriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("bursar/postgres: connect: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		return nil, fmt.Errorf("bursar/postgres: open grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("%w: postgres: create migration executor: %w", bursar.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", bursar.ErrMigrationFailed, err)
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
	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, pg: s.pg, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// LockTerm row-locks the term's structures and takes a transaction-scoped
// advisory lock on the term key, so a term with no rows yet is covered too.
func (s *Store) LockTerm(ctx context.Context, schoolID string, year, term int) error {
	if !s.inTx {
		return nil
	}
	key := fmt.Sprintf("bursar:%s:%d:%d", schoolID, year, term)
	if _, err := s.q.NewRaw(`SELECT pg_advisory_xact_lock(hashtext($1))`, key).Exec(ctx); err != nil {
		return err
	}
	var locked []structureModel
	return s.q.NewSelect(&locked).
		Where("school_id = $1", schoolID).
		Where("year = $2", year).
		Where("term = $3", term).
		ForUpdate().
		Scan(ctx)
}

// ==================== Fee structures ====================

func (s *Store) CreateStructure(ctx context.Context, fs *feestructure.FeeStructure) error {
	_, err := s.q.NewInsert(toStructureModel(fs)).Exec(ctx)
	return translate(err)
}

func (s *Store) GetStructure(ctx context.Context, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	m := new(structureModel)
	err := s.q.NewSelect(m).
		Where("id = $1", structureID.String()).
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
	q := s.q.NewSelect(&models).Where("school_id = $1", schoolID)

	argIdx := 1
	if opts.Year != 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("year = $%d", argIdx), opts.Year)
	}
	if opts.Term != 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("term = $%d", argIdx), opts.Term)
	}
	if opts.Level != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("level = $%d", argIdx), feestructure.NormalizeLevel(opts.Level))
	}
	if opts.Published != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("is_published = $%d", argIdx), *opts.Published)
	}
	if opts.Default != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("is_default = $%d", argIdx), *opts.Default)
	}
	if opts.Search != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("name ILIKE $%d", argIdx), "%"+strings.TrimSpace(opts.Search)+"%")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("year DESC, term DESC, id")

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
		Where("id = $1", structureID.String()).
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
		Where("id = $1", itemID.String()).
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
		Where("structure_id = $1", structureID.String()).
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
		Where("id = $1", itemID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, bursar.ErrItemNotFound)
}

func (s *Store) DeleteItems(ctx context.Context, structureID id.FeeStructureID) (int, error) {
	res, err := s.q.NewDelete((*itemModel)(nil)).
		Where("structure_id = $1", structureID.String()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) CountItems(ctx context.Context, structureID id.FeeStructureID) (int, error) {
	n, err := s.q.NewSelect((*itemModel)(nil)).
		Where("structure_id = $1", structureID.String()).
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
		Where("id = $1", invID.String()).
		Scan(ctx)
	return s.invoiceFromRow(ctx, m, err)
}

func (s *Store) GetStudentInvoice(ctx context.Context, schoolID, studentID string, year, term int) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.q.NewSelect(m).
		Where("school_id = $1", schoolID).
		Where("student_id = $2", studentID).
		Where("year = $3", year).
		Where("term = $4", term).
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
	ids := make([]string, len(invs))
	byID := make(map[id.InvoiceID]*invoice.Invoice, len(invs))
	for i, inv := range invs {
		ids[i] = inv.ID.String()
		byID[inv.ID] = inv
	}

	var models []lineModel
	err := s.q.NewSelect(&models).
		WhereArray("invoice_id", "= ANY", ids).
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
	q := s.q.NewSelect(&models).Where("school_id = $1", schoolID)

	argIdx := 1
	if opts.Year != 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("year = $%d", argIdx), opts.Year)
	}
	if opts.Term != 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("term = $%d", argIdx), opts.Term)
	}
	if opts.ClassID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("class_id = $%d", argIdx), opts.ClassID)
	}
	if opts.StudentID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("student_id = $%d", argIdx), opts.StudentID)
	}
	if len(opts.Status) > 0 {
		statuses := make([]string, len(opts.Status))
		for i, st := range opts.Status {
			statuses[i] = string(st)
		}
		q = q.WhereArray("status", "= ANY", statuses)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id")

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
		Where("school_id = $1", schoolID).
		Where("year = $2", year).
		Where("term = $3", term).
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
		Where("invoice_id = $1", invoiceID.String()).
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
		Where("school_id = $1", schoolID).
		Where("student_id = $2", studentID).
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

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// expectRow returns notFound when res touched no rows.
func expectRow(res rowsAffecter, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for both the pgx and database/sql no-rows sentinels.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// translate maps unique violations onto the Bursar conflict sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "uq_bursar_structures_name":
			return fmt.Errorf("%w: %s", bursar.ErrStructureExists, pgErr.Detail)
		case "uq_bursar_items_key":
			return fmt.Errorf("%w: %s", bursar.ErrItemExists, pgErr.Detail)
		case "uq_bursar_invoices_student_term":
			return fmt.Errorf("%w: %s", bursar.ErrInvoiceExists, pgErr.Detail)
		default:
			return fmt.Errorf("%w: %s", bursar.ErrAlreadyExists, pgErr.ConstraintName)
		}
	case "23503":
		return fmt.Errorf("%w: %s", bursar.ErrNotFound, pgErr.ConstraintName)
	}
	return err
}
