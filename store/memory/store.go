// Package memory is an in-process Store used by tests and single-node
// deployments. Transactions are serialized and roll back by restoring a
// snapshot of the maps.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/store"
)

var _ store.Store = (*Store)(nil)

type tables struct {
	structures map[string]*feestructure.FeeStructure
	items      map[string]*feestructure.FeeItem
	invoices   map[string]*invoice.Invoice
	payments   map[string]*payment.Payment
}

func (t *tables) clone() *tables {
	return &tables{
		structures: maps.Clone(t.structures),
		items:      maps.Clone(t.items),
		invoices:   maps.Clone(t.invoices),
		payments:   maps.Clone(t.payments),
	}
}

type db struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	data   *tables
	closed bool
}

// Store keeps every entity in maps. Stored values are copied on the way in
// and out, so callers never share memory with the store.
type Store struct {
	db   *db
	inTx bool
}

// New returns an empty store.
func New() *Store {
	return &Store{db: &db{data: &tables{
		structures: make(map[string]*feestructure.FeeStructure),
		items:      make(map[string]*feestructure.FeeItem),
		invoices:   make(map[string]*invoice.Invoice),
		payments:   make(map[string]*payment.Payment),
	}}}
}

// write takes the locks a mutation needs. Outside a transaction the write
// also waits for any running transaction, so a rollback never discards it.
func (s *Store) write() func() {
	if !s.inTx {
		s.db.txMu.Lock()
	}
	s.db.mu.Lock()
	return func() {
		s.db.mu.Unlock()
		if !s.inTx {
			s.db.txMu.Unlock()
		}
	}
}

func (s *Store) read() func() {
	s.db.mu.RLock()
	return s.db.mu.RUnlock
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.RLock()
	snapshot := s.db.data.clone()
	s.db.mu.RUnlock()

	tx := &Store{db: s.db, inTx: true}
	if err := fn(ctx, tx); err != nil {
		s.db.mu.Lock()
		s.db.data = snapshot
		s.db.mu.Unlock()
		return err
	}
	return nil
}

// LockTerm is satisfied by Transact, which already runs one transaction at a time.
func (s *Store) LockTerm(context.Context, string, int, int) error { return nil }

// ──────────────────────────────────────────────────
// Fee structures
// ──────────────────────────────────────────────────

func (s *Store) CreateStructure(_ context.Context, fs *feestructure.FeeStructure) error {
	defer s.write()()

	if _, exists := s.db.data.structures[fs.ID.String()]; exists {
		return bursar.ErrAlreadyExists
	}
	if err := s.checkStructureUnique(fs); err != nil {
		return err
	}
	c := *fs
	s.db.data.structures[fs.ID.String()] = &c
	return nil
}

func (s *Store) checkStructureUnique(fs *feestructure.FeeStructure) error {
	for _, other := range s.db.data.structures {
		if other.ID == fs.ID || other.SchoolID != fs.SchoolID ||
			other.Year != fs.Year || other.Term != fs.Term {
			continue
		}
		if other.Level == fs.Level && strings.EqualFold(other.Name, fs.Name) {
			return fmt.Errorf("%w: %q", bursar.ErrStructureExists, fs.Name)
		}
		if fs.IsDefault && other.IsDefault {
			return fmt.Errorf("%w: another default for %d term %d", bursar.ErrAlreadyExists, fs.Year, fs.Term)
		}
	}
	return nil
}

func (s *Store) GetStructure(_ context.Context, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	defer s.read()()

	fs, ok := s.db.data.structures[structureID.String()]
	if !ok {
		return nil, bursar.ErrStructureNotFound
	}
	c := *fs
	return &c, nil
}

func (s *Store) ListStructures(_ context.Context, schoolID string, opts feestructure.ListOpts) ([]*feestructure.FeeStructure, error) {
	defer s.read()()

	result := make([]*feestructure.FeeStructure, 0)
	for _, fs := range s.db.data.structures {
		if fs.SchoolID == schoolID && opts.Match(fs) {
			c := *fs
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *feestructure.FeeStructure) int {
		if a.Year != b.Year {
			return b.Year - a.Year
		}
		if a.Term != b.Term {
			return b.Term - a.Term
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateStructure(_ context.Context, fs *feestructure.FeeStructure) error {
	defer s.write()()

	if _, exists := s.db.data.structures[fs.ID.String()]; !exists {
		return bursar.ErrStructureNotFound
	}
	if err := s.checkStructureUnique(fs); err != nil {
		return err
	}
	c := *fs
	s.db.data.structures[fs.ID.String()] = &c
	return nil
}

func (s *Store) DeleteStructure(_ context.Context, structureID id.FeeStructureID) error {
	defer s.write()()

	if _, exists := s.db.data.structures[structureID.String()]; !exists {
		return bursar.ErrStructureNotFound
	}
	delete(s.db.data.structures, structureID.String())
	for k, it := range s.db.data.items {
		if it.StructureID == structureID {
			delete(s.db.data.items, k)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Fee items
// ──────────────────────────────────────────────────

func (s *Store) CreateItem(_ context.Context, item *feestructure.FeeItem) error {
	defer s.write()()

	if _, ok := s.db.data.structures[item.StructureID.String()]; !ok {
		return bursar.ErrStructureNotFound
	}
	if err := s.checkItemUnique(item); err != nil {
		return err
	}
	c := *item
	s.db.data.items[item.ID.String()] = &c
	return nil
}

func (s *Store) checkItemUnique(item *feestructure.FeeItem) error {
	for _, other := range s.db.data.items {
		if other.ID != item.ID && other.StructureID == item.StructureID && other.Key() == item.Key() {
			return fmt.Errorf("%w: %q", bursar.ErrItemExists, item.ItemName)
		}
	}
	return nil
}

func (s *Store) GetItem(_ context.Context, itemID id.FeeItemID) (*feestructure.FeeItem, error) {
	defer s.read()()

	it, ok := s.db.data.items[itemID.String()]
	if !ok {
		return nil, bursar.ErrItemNotFound
	}
	c := *it
	return &c, nil
}

func (s *Store) ListItems(_ context.Context, structureID id.FeeStructureID) ([]*feestructure.FeeItem, error) {
	defer s.read()()

	result := make([]*feestructure.FeeItem, 0)
	for _, it := range s.db.data.items {
		if it.StructureID == structureID {
			c := *it
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *feestructure.FeeItem) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return result, nil
}

func (s *Store) UpdateItem(_ context.Context, item *feestructure.FeeItem) error {
	defer s.write()()

	if _, ok := s.db.data.items[item.ID.String()]; !ok {
		return bursar.ErrItemNotFound
	}
	if err := s.checkItemUnique(item); err != nil {
		return err
	}
	c := *item
	s.db.data.items[item.ID.String()] = &c
	return nil
}

func (s *Store) DeleteItem(_ context.Context, itemID id.FeeItemID) error {
	defer s.write()()

	if _, ok := s.db.data.items[itemID.String()]; !ok {
		return bursar.ErrItemNotFound
	}
	delete(s.db.data.items, itemID.String())
	return nil
}

func (s *Store) DeleteItems(_ context.Context, structureID id.FeeStructureID) (int, error) {
	defer s.write()()

	n := 0
	for k, it := range s.db.data.items {
		if it.StructureID == structureID {
			delete(s.db.data.items, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) CountItems(_ context.Context, structureID id.FeeStructureID) (int, error) {
	defer s.read()()

	n := 0
	for _, it := range s.db.data.items {
		if it.StructureID == structureID {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	c.Lines = slices.Clone(inv.Lines)
	return &c
}

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	defer s.write()()

	if _, exists := s.db.data.invoices[inv.ID.String()]; exists {
		return bursar.ErrAlreadyExists
	}
	for _, other := range s.db.data.invoices {
		if other.SchoolID == inv.SchoolID && other.StudentID == inv.StudentID &&
			other.Year == inv.Year && other.Term == inv.Term {
			return fmt.Errorf("%w: student %s", bursar.ErrInvoiceExists, inv.StudentID)
		}
	}
	s.db.data.invoices[inv.ID.String()] = copyInvoice(inv)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	defer s.read()()

	inv, ok := s.db.data.invoices[invID.String()]
	if !ok {
		return nil, bursar.ErrInvoiceNotFound
	}
	return copyInvoice(inv), nil
}

func (s *Store) GetStudentInvoice(_ context.Context, schoolID, studentID string, year, term int) (*invoice.Invoice, error) {
	defer s.read()()

	for _, inv := range s.db.data.invoices {
		if inv.SchoolID == schoolID && inv.StudentID == studentID && inv.Year == year && inv.Term == term {
			return copyInvoice(inv), nil
		}
	}
	return nil, bursar.ErrInvoiceNotFound
}

func (s *Store) ListInvoices(_ context.Context, schoolID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	defer s.read()()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.db.data.invoices {
		if inv.SchoolID == schoolID && opts.Match(inv) {
			result = append(result, copyInvoice(inv))
		}
	}
	slices.SortFunc(result, func(a, b *invoice.Invoice) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv *invoice.Invoice) error {
	defer s.write()()

	if _, ok := s.db.data.invoices[inv.ID.String()]; !ok {
		return bursar.ErrInvoiceNotFound
	}
	s.db.data.invoices[inv.ID.String()] = copyInvoice(inv)
	return nil
}

func (s *Store) CountTermInvoices(_ context.Context, schoolID string, year, term int) (int, error) {
	defer s.read()()

	n := 0
	for _, inv := range s.db.data.invoices {
		if inv.SchoolID == schoolID && inv.Year == year && inv.Term == term {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

func (s *Store) CreatePayment(_ context.Context, p *payment.Payment) error {
	defer s.write()()

	if _, exists := s.db.data.payments[p.ID.String()]; exists {
		return bursar.ErrAlreadyExists
	}
	if _, ok := s.db.data.invoices[p.InvoiceID.String()]; !ok {
		return bursar.ErrInvoiceNotFound
	}
	c := *p
	s.db.data.payments[p.ID.String()] = &c
	return nil
}

func (s *Store) ListInvoicePayments(_ context.Context, invoiceID id.InvoiceID) ([]*payment.Payment, error) {
	return s.listPayments(func(p *payment.Payment) bool { return p.InvoiceID == invoiceID }), nil
}

func (s *Store) ListStudentPayments(_ context.Context, schoolID, studentID string) ([]*payment.Payment, error) {
	return s.listPayments(func(p *payment.Payment) bool {
		return p.SchoolID == schoolID && p.StudentID == studentID
	}), nil
}

func (s *Store) listPayments(match func(*payment.Payment) bool) []*payment.Payment {
	defer s.read()()

	result := make([]*payment.Payment, 0)
	for _, p := range s.db.data.payments {
		if match(p) {
			c := *p
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *payment.Payment) int {
		if c := a.PostedAt.Compare(b.PostedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return result
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error {
	defer s.read()()
	if s.db.closed {
		return bursar.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
