// Package mongo implements store.Store on MongoDB via grove's mongodriver.
// Transactions need a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/store"
)

// Collection name constants.
const (
	colStructures = "bursar_fee_structures"
	colItems      = "bursar_fee_items"
	colInvoices   = "bursar_invoices"
	colPayments   = "bursar_payments"
)

// Index names used to map duplicate-key errors.
const (
	idxStructureName = "uq_structure_name"
	idxDefault       = "uq_structure_default"
	idxItemKey       = "uq_item_key"
	idxInvoiceTerm   = "uq_invoice_student_term"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db   *grove.DB
	mdb  *mongodriver.MongoDB
	inTx bool
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Open connects to uri and returns a store over database name.
func Open(ctx context.Context, uri, name string) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(name)); err != nil {
		return nil, fmt.Errorf("bursar/mongo: connect: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all bursar collections.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.mdb)
	if err != nil {
		return fmt.Errorf("%w: mongo: create migration executor: %w", bursar.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations(s.mdb))
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: mongo: %w", bursar.ErrMigrationFailed, err)
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

// Transact runs fn inside a session transaction. Query builders pick the
// session up from the callback context.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	session, err := s.mdb.Client().StartSession()
	if err != nil {
		return fmt.Errorf("%w: %w", bursar.ErrTransactionFailed, err)
	}
	defer session.EndSession(ctx)

	tx := &Store{db: s.db, mdb: s.mdb, inTx: true}
	_, err = session.WithTransaction(ctx, func(sctx context.Context) (any, error) {
		return nil, fn(sctx, tx)
	})
	return err
}

// LockTerm writes the term's lock document. Two transactions touching the
// same document conflict, so the later one aborts and is retried.
func (s *Store) LockTerm(ctx context.Context, schoolID string, year, term int) error {
	if !s.inTx {
		return nil
	}
	key := fmt.Sprintf("%s:%d:%d", schoolID, year, term)
	_, err := s.mdb.NewUpdate((*termLockModel)(nil)).
		Filter(bson.M{"_id": key}).
		SetUpdate(bson.M{"$inc": bson.M{"version": 1}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: lock term: %w", err)
	}
	return nil
}

// ==================== Fee structures ====================

func (s *Store) CreateStructure(ctx context.Context, fs *feestructure.FeeStructure) error {
	_, err := s.mdb.NewInsert(toStructureModel(fs)).Exec(ctx)
	return translate(err)
}

func (s *Store) GetStructure(ctx context.Context, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	var m structureModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": structureID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrStructureNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get structure: %w", err)
	}
	return fromStructureModel(&m)
}

func (s *Store) ListStructures(ctx context.Context, schoolID string, opts feestructure.ListOpts) ([]*feestructure.FeeStructure, error) {
	var models []structureModel

	filter := bson.M{"school_id": schoolID}
	if opts.Year != 0 {
		filter["year"] = opts.Year
	}
	if opts.Term != 0 {
		filter["term"] = opts.Term
	}
	if opts.Level != "" {
		filter["level"] = feestructure.NormalizeLevel(opts.Level)
	}
	if opts.Published != nil {
		filter["is_published"] = *opts.Published
	}
	if opts.Default != nil {
		filter["is_default"] = *opts.Default
	}
	if opts.Search != "" {
		filter["name_lower"] = bson.M{"$regex": regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(opts.Search)))}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "year", Value: -1}, {Key: "term", Value: -1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bursar/mongo: list structures: %w", err)
	}
	result := make([]*feestructure.FeeStructure, 0, len(models))
	for i := range models {
		fs, err := fromStructureModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, fs)
	}
	return result, nil
}

func (s *Store) UpdateStructure(ctx context.Context, fs *feestructure.FeeStructure) error {
	m := toStructureModel(fs)
	update := setUnset(bson.M{
		"name":         m.Name,
		"name_lower":   m.NameLower,
		"level":        m.Level,
		"year":         m.Year,
		"term":         m.Term,
		"is_default":   m.IsDefault,
		"is_published": m.IsPublished,
		"updated_at":   m.UpdatedAt,
	}, "published_at", m.PublishedAt)

	res, err := s.mdb.NewUpdate((*structureModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(update).
		Exec(ctx)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount() == 0 {
		return bursar.ErrStructureNotFound
	}
	return nil
}

func (s *Store) DeleteStructure(ctx context.Context, structureID id.FeeStructureID) error {
	res, err := s.mdb.NewDelete((*structureModel)(nil)).
		Filter(bson.M{"_id": structureID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: delete structure: %w", err)
	}
	if res.DeletedCount() == 0 {
		return bursar.ErrStructureNotFound
	}
	if _, err := s.DeleteItems(ctx, structureID); err != nil {
		return err
	}
	return nil
}

// ==================== Fee items ====================

func (s *Store) CreateItem(ctx context.Context, item *feestructure.FeeItem) error {
	n, err := s.mdb.NewFind(new(structureModel)).
		Filter(bson.M{"_id": item.StructureID.String()}).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: create item: %w", err)
	}
	if n == 0 {
		return bursar.ErrStructureNotFound
	}
	_, err = s.mdb.NewInsert(toItemModel(item)).Exec(ctx)
	return translate(err)
}

func (s *Store) GetItem(ctx context.Context, itemID id.FeeItemID) (*feestructure.FeeItem, error) {
	var m itemModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": itemID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrItemNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get item: %w", err)
	}
	return fromItemModel(&m)
}

func (s *Store) ListItems(ctx context.Context, structureID id.FeeStructureID) ([]*feestructure.FeeItem, error) {
	var models []itemModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"structure_id": structureID.String()}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: list items: %w", err)
	}
	result := make([]*feestructure.FeeItem, 0, len(models))
	for i := range models {
		it, err := fromItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *feestructure.FeeItem) error {
	m := toItemModel(item)
	res, err := s.mdb.NewUpdate((*itemModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		Set("class_id", m.ClassID).
		Set("item_name", m.ItemName).
		Set("name_lower", m.NameLower).
		Set("amount", m.Amount).
		Set("currency", m.Currency).
		Set("category", m.Category).
		Set("billing_cycle", m.BillingCycle).
		Set("is_optional", m.IsOptional).
		Set("updated_at", m.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount() == 0 {
		return bursar.ErrItemNotFound
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID id.FeeItemID) error {
	res, err := s.mdb.NewDelete((*itemModel)(nil)).
		Filter(bson.M{"_id": itemID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: delete item: %w", err)
	}
	if res.DeletedCount() == 0 {
		return bursar.ErrItemNotFound
	}
	return nil
}

func (s *Store) DeleteItems(ctx context.Context, structureID id.FeeStructureID) (int, error) {
	res, err := s.mdb.NewDelete((*itemModel)(nil)).
		Filter(bson.M{"structure_id": structureID.String()}).
		Many().
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("bursar/mongo: delete items: %w", err)
	}
	return int(res.DeletedCount()), nil
}

func (s *Store) CountItems(ctx context.Context, structureID id.FeeStructureID) (int, error) {
	n, err := s.mdb.NewFind(new(itemModel)).
		Filter(bson.M{"structure_id": structureID.String()}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("bursar/mongo: count items: %w", err)
	}
	return int(n), nil
}

// ==================== Invoices ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	_, err := s.mdb.NewInsert(toInvoiceModel(inv)).Exec(ctx)
	return translate(err)
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"_id": invID.String()})
}

func (s *Store) GetStudentInvoice(ctx context.Context, schoolID, studentID string, year, term int) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"school_id": schoolID, "student_id": studentID, "year": year, "term": term})
}

func (s *Store) findInvoice(ctx context.Context, filter bson.M) (*invoice.Invoice, error) {
	var m invoiceModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, bursar.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("bursar/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, schoolID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{"school_id": schoolID}
	if opts.Year != 0 {
		filter["year"] = opts.Year
	}
	if opts.Term != 0 {
		filter["term"] = opts.Term
	}
	if opts.ClassID != "" {
		filter["class_id"] = opts.ClassID
	}
	if opts.StudentID != "" {
		filter["student_id"] = opts.StudentID
	}
	if len(opts.Status) > 0 {
		statuses := make([]string, len(opts.Status))
		for i, st := range opts.Status {
			statuses[i] = string(st)
		}
		filter["status"] = bson.M{"$in": statuses}
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
		return nil, fmt.Errorf("bursar/mongo: list invoices: %w", err)
	}
	result := make([]*invoice.Invoice, 0, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	update := setUnset(bson.M{
		"status":        string(inv.Status),
		"due_date":      inv.DueDate,
		"cancel_reason": inv.CancelReason,
		"updated_at":    inv.UpdatedAt,
	}, "issued_at", inv.IssuedAt)
	update = mergeUpdates(update, setUnset(bson.M{}, "cancelled_at", inv.CancelledAt))

	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{"_id": inv.ID.String()}).
		SetUpdate(update).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: update invoice: %w", err)
	}
	if res.MatchedCount() == 0 {
		return bursar.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) CountTermInvoices(ctx context.Context, schoolID string, year, term int) (int, error) {
	n, err := s.mdb.NewFind(new(invoiceModel)).
		Filter(bson.M{"school_id": schoolID, "year": year, "term": term}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("bursar/mongo: count invoices: %w", err)
	}
	return int(n), nil
}

// ==================== Payments ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	n, err := s.mdb.NewFind(new(invoiceModel)).
		Filter(bson.M{"_id": p.InvoiceID.String()}).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("bursar/mongo: create payment: %w", err)
	}
	if n == 0 {
		return bursar.ErrInvoiceNotFound
	}
	_, err = s.mdb.NewInsert(toPaymentModel(p)).Exec(ctx)
	return translate(err)
}

func (s *Store) ListInvoicePayments(ctx context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error) {
	return s.listPayments(ctx, bson.M{"invoice_id": invoiceID.String()})
}

func (s *Store) ListStudentPayments(ctx context.Context, schoolID, studentID string) ([]*payment.Payment, error) {
	return s.listPayments(ctx, bson.M{"school_id": schoolID, "student_id": studentID})
}

func (s *Store) listPayments(ctx context.Context, filter bson.M) ([]*payment.Payment, error) {
	var models []paymentModel
	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "posted_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("bursar/mongo: list payments: %w", err)
	}
	result := make([]*payment.Payment, 0, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// ==================== Helpers ====================

// setUnset builds a $set update, moving field to $unset when v is nil.
func setUnset[T any](set bson.M, field string, v *T) bson.M {
	update := bson.M{}
	if v != nil {
		set[field] = *v
	} else {
		update["$unset"] = bson.M{field: ""}
	}
	if len(set) > 0 {
		update["$set"] = set
	}
	return update
}

// mergeUpdates folds the operators of src into dst.
func mergeUpdates(dst, src bson.M) bson.M {
	for op, fields := range src {
		cur, ok := dst[op].(bson.M)
		if !ok {
			dst[op] = fields
			continue
		}
		for k, v := range fields.(bson.M) {
			cur[k] = v
		}
	}
	return dst
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// translate maps duplicate-key errors onto the Bursar conflict sentinels
// using the index name in the server message.
func translate(err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, idxStructureName):
		return fmt.Errorf("%w: %s", bursar.ErrStructureExists, msg)
	case strings.Contains(msg, idxItemKey):
		return fmt.Errorf("%w: %s", bursar.ErrItemExists, msg)
	case strings.Contains(msg, idxInvoiceTerm):
		return fmt.Errorf("%w: %s", bursar.ErrInvoiceExists, msg)
	}
	return fmt.Errorf("%w: %s", bursar.ErrAlreadyExists, msg)
}
