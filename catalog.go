package bursar

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// ──────────────────────────────────────────────────
// Fee structures
// ──────────────────────────────────────────────────

// CreateStructureInput describes a new fee structure.
type CreateStructureInput struct {
	Name  string `json:"name"`
	Level string `json:"level,omitempty"`
	Year  int    `json:"year"`
	Term  int    `json:"term"`
}

// CreateStructure creates an unpublished, non-default fee structure.
func (b *Bursar) CreateStructure(ctx context.Context, schoolID string, in CreateStructureInput) (*feestructure.FeeStructure, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}

	var errs MultiError
	name, err := structureName(in.Name)
	errs.Add(err)
	level := feestructure.NormalizeLevel(in.Level)
	if utf8.RuneCountInString(level) > feestructure.MaxLevelLen {
		errs.Add(Invalid("level", "must be at most %d characters", feestructure.MaxLevelLen))
	}
	errs.Add(validateTerm(in.Year, in.Term))
	if err := errs.Err(); err != nil {
		return nil, err
	}

	fs := &feestructure.FeeStructure{
		Entity:   types.NewEntity(),
		ID:       id.NewFeeStructureID(),
		SchoolID: schoolID,
		Name:     name,
		Level:    level,
		Year:     in.Year,
		Term:     in.Term,
	}
	if err := b.store.CreateStructure(ctx, fs); err != nil {
		return nil, err
	}

	b.logger.Info("fee structure created",
		"school_id", schoolID,
		"structure_id", fs.ID.String(),
		"name", fs.Name,
		"year", fs.Year,
		"term", fs.Term,
	)
	b.plugins.EmitStructureCreated(ctx, fs)
	return fs, nil
}

// StructureFilter narrows ListStructures.
type StructureFilter struct {
	Year      int
	Term      int
	Level     string
	Published *bool
	Default   *bool
	HideEmpty bool
	Search    string
	Limit     int
	Offset    int
}

// ListStructures returns structure summaries with item counts and totals.
// HideEmpty drops structures without items; pagination applies after it.
func (b *Bursar) ListStructures(ctx context.Context, schoolID string, f StructureFilter) ([]*feestructure.Summary, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}

	opts := feestructure.ListOpts{
		Year:      f.Year,
		Term:      f.Term,
		Level:     f.Level,
		Published: f.Published,
		Default:   f.Default,
		Search:    f.Search,
	}
	if !f.HideEmpty {
		opts.Limit, opts.Offset = f.Limit, f.Offset
	}

	structures, err := b.store.ListStructures(ctx, schoolID, opts)
	if err != nil {
		return nil, err
	}

	out := make([]*feestructure.Summary, 0, len(structures))
	for _, fs := range structures {
		items, err := b.store.ListItems(ctx, fs.ID)
		if err != nil {
			return nil, err
		}
		if f.HideEmpty && len(items) == 0 {
			continue
		}
		out = append(out, &feestructure.Summary{
			FeeStructure: *fs,
			ItemCount:    len(items),
			TotalAmount:  feestructure.Total(b.currency, items),
		})
	}

	if f.HideEmpty {
		out = paginate(out, f.Limit, f.Offset)
	}
	return out, nil
}

// GetStructure returns a structure with its items.
func (b *Bursar) GetStructure(ctx context.Context, schoolID string, structureID id.FeeStructureID) (*feestructure.Detail, error) {
	fs, err := structure(ctx, b.store, schoolID, structureID)
	if err != nil {
		return nil, err
	}
	items, err := b.store.ListItems(ctx, fs.ID)
	if err != nil {
		return nil, err
	}
	return &feestructure.Detail{
		FeeStructure: *fs,
		Items:        items,
		TotalAmount:  feestructure.Total(b.currency, items),
	}, nil
}

// RenameStructure renames an unpublished structure.
func (b *Bursar) RenameStructure(ctx context.Context, schoolID string, structureID id.FeeStructureID, name string) (*feestructure.FeeStructure, error) {
	name, err := structureName(name)
	if err != nil {
		return nil, err
	}

	var out *feestructure.FeeStructure
	err = b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		fs, err := structure(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		if fs.IsPublished {
			return ErrStructurePublished
		}
		fs.Name = name
		fs.Touch()
		if err := tx.UpdateStructure(ctx, fs); err != nil {
			return err
		}
		out = fs
		return nil
	})
	return out, err
}

// PublishStructure makes a structure usable for invoicing. Publishing is
// permanent and freezes the structure and its items.
func (b *Bursar) PublishStructure(ctx context.Context, schoolID string, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	var (
		out   *feestructure.FeeStructure
		count int
	)
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		fs, err := structure(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		if fs.IsPublished {
			return ErrStructurePublished
		}
		count, err = tx.CountItems(ctx, fs.ID)
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrStructureEmpty
		}

		now := b.clock()
		fs.IsPublished = true
		fs.PublishedAt = &now
		fs.Touch()
		if err := tx.UpdateStructure(ctx, fs); err != nil {
			return err
		}
		out = fs
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("fee structure published",
		"school_id", schoolID,
		"structure_id", out.ID.String(),
		"items", count,
	)
	b.plugins.EmitStructurePublished(ctx, out, count)
	return out, nil
}

// SetDefaultStructure makes a published structure the default for its
// (year, term), clearing any other default in the same transaction.
func (b *Bursar) SetDefaultStructure(ctx context.Context, schoolID string, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	var out, previous *feestructure.FeeStructure
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		fs, err := structure(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		if !fs.IsPublished {
			return ErrStructureNotPublished
		}
		if err := tx.LockTerm(ctx, schoolID, fs.Year, fs.Term); err != nil {
			return err
		}

		isDefault := true
		current, err := tx.ListStructures(ctx, schoolID, feestructure.ListOpts{
			Year: fs.Year, Term: fs.Term, Default: &isDefault,
		})
		if err != nil {
			return err
		}
		for _, other := range current {
			if other.ID == fs.ID {
				continue
			}
			previous = other
			other.IsDefault = false
			other.Touch()
			if err := tx.UpdateStructure(ctx, other); err != nil {
				return err
			}
		}

		// Re-read after the lock: the structure may have been made default
		// by a transaction that committed while we waited.
		fs, err = structure(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		if !fs.IsDefault {
			fs.IsDefault = true
			fs.Touch()
			if err := tx.UpdateStructure(ctx, fs); err != nil {
				return err
			}
		}
		out = fs
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("default fee structure set",
		"school_id", schoolID,
		"structure_id", out.ID.String(),
		"year", out.Year,
		"term", out.Term,
	)
	b.plugins.EmitDefaultChanged(ctx, out, previous)
	return out, nil
}

// DeleteStructure removes a structure and its items. It is refused once
// any invoice exists for the structure's term.
func (b *Bursar) DeleteStructure(ctx context.Context, schoolID string, structureID id.FeeStructureID) error {
	var deleted *feestructure.FeeStructure
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		fs, err := structure(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		n, err := tx.CountTermInvoices(ctx, schoolID, fs.Year, fs.Term)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrStructureInvoiced
		}
		deleted = fs
		return tx.DeleteStructure(ctx, fs.ID)
	})
	if err != nil {
		return err
	}

	b.logger.Info("fee structure deleted", "school_id", schoolID, "structure_id", structureID.String())
	b.plugins.EmitStructureDeleted(ctx, deleted)
	return nil
}

// ──────────────────────────────────────────────────
// Fee items
// ──────────────────────────────────────────────────

// ItemInput describes a fee item. Empty Category and BillingCycle default
// to OTHER and TERM.
type ItemInput struct {
	ClassID      string                    `json:"class_id,omitempty"`
	ItemName     string                    `json:"item_name"`
	Amount       types.Money               `json:"amount"`
	Category     feestructure.Category     `json:"category,omitempty"`
	BillingCycle feestructure.BillingCycle `json:"billing_cycle,omitempty"`
	IsOptional   bool                      `json:"is_optional"`
}

func (b *Bursar) normalizeItem(in ItemInput) (ItemInput, error) {
	var errs MultiError

	in.ItemName = strings.TrimSpace(in.ItemName)
	switch {
	case in.ItemName == "":
		errs.Add(Invalid("item_name", "is required"))
	case utf8.RuneCountInString(in.ItemName) > feestructure.MaxNameLen:
		errs.Add(Invalid("item_name", "must be at most %d characters", feestructure.MaxNameLen))
	}
	in.ClassID = strings.TrimSpace(in.ClassID)

	amount, err := b.money("amount", in.Amount)
	errs.Add(err)
	if err == nil && amount.IsNegative() {
		errs.Add(Invalid("amount", "must not be negative"))
	}
	in.Amount = amount

	in.Category = feestructure.Category(strings.ToUpper(string(in.Category)))
	if in.Category == "" {
		in.Category = feestructure.CategoryOther
	}
	if !in.Category.Valid() {
		errs.Add(Invalid("category", "unknown category %q", in.Category))
	}
	in.BillingCycle = feestructure.BillingCycle(strings.ToUpper(string(in.BillingCycle)))
	if in.BillingCycle == "" {
		in.BillingCycle = feestructure.CycleTerm
	}
	if !in.BillingCycle.Valid() {
		errs.Add(Invalid("billing_cycle", "unknown billing cycle %q", in.BillingCycle))
	}
	return in, errs.Err()
}

// editable loads a structure that may still change.
func editable(ctx context.Context, tx store.Store, schoolID string, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	fs, err := structure(ctx, tx, schoolID, structureID)
	if err != nil {
		return nil, err
	}
	if fs.IsPublished {
		return nil, ErrStructurePublished
	}
	return fs, nil
}

// AddItem adds an item to an unpublished structure. An item with the same
// class and (case-insensitive) name is updated in place instead; created
// reports which happened.
func (b *Bursar) AddItem(ctx context.Context, schoolID string, structureID id.FeeStructureID, in ItemInput) (item *feestructure.FeeItem, created bool, err error) {
	in, err = b.normalizeItem(in)
	if err != nil {
		return nil, false, err
	}

	err = b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		fs, err := editable(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		existing, err := findItem(ctx, tx, fs.ID, in.ClassID, in.ItemName)
		if err != nil && !errors.Is(err, ErrItemNotFound) {
			return err
		}

		if existing != nil {
			existing.Amount = in.Amount
			existing.Category = in.Category
			existing.BillingCycle = in.BillingCycle
			existing.IsOptional = in.IsOptional
			existing.Touch()
			item, created = existing, false
			return tx.UpdateItem(ctx, existing)
		}

		item = &feestructure.FeeItem{
			Entity:       types.NewEntity(),
			ID:           id.NewFeeItemID(),
			SchoolID:     schoolID,
			StructureID:  fs.ID,
			ClassID:      in.ClassID,
			ItemName:     in.ItemName,
			Amount:       in.Amount,
			Category:     in.Category,
			BillingCycle: in.BillingCycle,
			IsOptional:   in.IsOptional,
		}
		created = true
		return tx.CreateItem(ctx, item)
	})
	if err != nil {
		return nil, false, err
	}

	b.logger.Debug("fee item saved",
		"structure_id", structureID.String(),
		"item", item.ItemName,
		"class_id", item.ClassID,
		"created", created,
	)
	b.plugins.EmitItemSaved(ctx, item, created)
	return item, created, nil
}

// UpdateItem replaces an item's fields. Renaming onto another item's
// (class, name) key is a conflict.
func (b *Bursar) UpdateItem(ctx context.Context, schoolID string, itemID id.FeeItemID, in ItemInput) (*feestructure.FeeItem, error) {
	in, err := b.normalizeItem(in)
	if err != nil {
		return nil, err
	}

	var out *feestructure.FeeItem
	err = b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		item, err := loadItem(ctx, tx, schoolID, itemID)
		if err != nil {
			return err
		}
		if _, err := editable(ctx, tx, schoolID, item.StructureID); err != nil {
			return err
		}

		if feestructure.ItemKey(in.ClassID, in.ItemName) != item.Key() {
			clash, err := findItem(ctx, tx, item.StructureID, in.ClassID, in.ItemName)
			if err != nil && !errors.Is(err, ErrItemNotFound) {
				return err
			}
			if clash != nil {
				return ErrItemExists
			}
		}

		item.ClassID = in.ClassID
		item.ItemName = in.ItemName
		item.Amount = in.Amount
		item.Category = in.Category
		item.BillingCycle = in.BillingCycle
		item.IsOptional = in.IsOptional
		item.Touch()
		out = item
		return tx.UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	b.plugins.EmitItemSaved(ctx, out, false)
	return out, nil
}

// DeleteItem removes an item from an unpublished structure.
func (b *Bursar) DeleteItem(ctx context.Context, schoolID string, itemID id.FeeItemID) error {
	var deleted *feestructure.FeeItem
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		item, err := loadItem(ctx, tx, schoolID, itemID)
		if err != nil {
			return err
		}
		if _, err := editable(ctx, tx, schoolID, item.StructureID); err != nil {
			return err
		}
		deleted = item
		return tx.DeleteItem(ctx, item.ID)
	})
	if err != nil {
		return err
	}
	b.plugins.EmitItemDeleted(ctx, deleted)
	return nil
}

// DeleteItemByName removes the item keyed by (classID, name).
func (b *Bursar) DeleteItemByName(ctx context.Context, schoolID string, structureID id.FeeStructureID, classID, name string) (*feestructure.FeeItem, error) {
	var deleted *feestructure.FeeItem
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		fs, err := editable(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		item, err := findItem(ctx, tx, fs.ID, classID, name)
		if err != nil {
			return err
		}
		deleted = item
		return tx.DeleteItem(ctx, item.ID)
	})
	if err != nil {
		return nil, err
	}
	b.plugins.EmitItemDeleted(ctx, deleted)
	return deleted, nil
}

// DeleteAllItems empties an unpublished structure and returns how many
// items were removed.
func (b *Bursar) DeleteAllItems(ctx context.Context, schoolID string, structureID id.FeeStructureID) (int, error) {
	var n int
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		fs, err := editable(ctx, tx, schoolID, structureID)
		if err != nil {
			return err
		}
		n, err = tx.DeleteItems(ctx, fs.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	b.logger.Info("fee items cleared", "structure_id", structureID.String(), "count", n)
	return n, nil
}

// GetItemByName looks an item up by class and case-insensitive name.
func (b *Bursar) GetItemByName(ctx context.Context, schoolID string, structureID id.FeeStructureID, classID, name string) (*feestructure.FeeItem, error) {
	fs, err := structure(ctx, b.store, schoolID, structureID)
	if err != nil {
		return nil, err
	}
	return findItem(ctx, b.store, fs.ID, classID, name)
}

// ListItems returns every item of a structure.
func (b *Bursar) ListItems(ctx context.Context, schoolID string, structureID id.FeeStructureID) ([]*feestructure.FeeItem, error) {
	fs, err := structure(ctx, b.store, schoolID, structureID)
	if err != nil {
		return nil, err
	}
	return b.store.ListItems(ctx, fs.ID)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func findItem(ctx context.Context, s store.Store, structureID id.FeeStructureID, classID, name string) (*feestructure.FeeItem, error) {
	items, err := s.ListItems(ctx, structureID)
	if err != nil {
		return nil, err
	}
	k := feestructure.ItemKey(strings.TrimSpace(classID), name)
	for _, it := range items {
		if it.Key() == k {
			return it, nil
		}
	}
	return nil, ErrItemNotFound
}

func loadItem(ctx context.Context, s store.Store, schoolID string, itemID id.FeeItemID) (*feestructure.FeeItem, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.SchoolID != schoolID {
		return nil, ErrItemNotFound
	}
	return item, nil
}

func structureName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", Invalid("name", "is required")
	case utf8.RuneCountInString(name) > feestructure.MaxNameLen:
		return "", Invalid("name", "must be at most %d characters", feestructure.MaxNameLen)
	}
	return name, nil
}

// money fills in the billing currency and rejects any other.
func (b *Bursar) money(field string, m types.Money) (types.Money, error) {
	if m.Currency == "" {
		m.Currency = b.currency
	}
	m.Currency = strings.ToLower(m.Currency)
	if m.Currency != b.currency {
		return m, Invalid(field, "currency %q is not the billing currency %q", m.Currency, b.currency)
	}
	return m, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	offset = max(offset, 0)
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
