package bursar_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
)

func TestCreateStructure(t *testing.T) {
	f := newFixture(t)

	fs, err := f.b.CreateStructure(f.ctx, school, bursar.CreateStructureInput{
		Name: "  Term 1 2025 ", Level: "grade 4", Year: 2025, Term: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Term 1 2025", fs.Name)
	assert.Equal(t, "GRADE 4", fs.Level)
	assert.False(t, fs.IsPublished)
	assert.False(t, fs.IsDefault)
	assert.Equal(t, id.PrefixFeeStructure, fs.ID.Prefix())

	all, err := f.b.CreateStructure(f.ctx, school, bursar.CreateStructureInput{Name: "All levels", Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Equal(t, feestructure.LevelAll, all.Level)
	assert.Equal(t, 2, f.recorder.created)
}

func TestCreateStructureValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		in     bursar.CreateStructureInput
		fields []string
	}{
		{"blank name", bursar.CreateStructureInput{Name: " ", Year: 2025, Term: 1}, []string{"name"}},
		{"term out of range", bursar.CreateStructureInput{Name: "X", Year: 2025, Term: 4}, []string{"term"}},
		{"year and term", bursar.CreateStructureInput{Name: "X", Year: 1999, Term: 0}, []string{"year", "term"}},
		{"long level", bursar.CreateStructureInput{Name: "X", Level: "abcdefghijklmnopqrstuvwxyz0123456", Year: 2025, Term: 1}, []string{"level"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.b.CreateStructure(f.ctx, school, tt.in)
			require.Error(t, err)
			assert.True(t, bursar.IsValidation(err))

			var multi bursar.MultiError
			require.ErrorAs(t, err, &multi)
			var fields []string
			for _, e := range multi.Errors {
				var ve bursar.ValidationError
				require.ErrorAs(t, e, &ve)
				fields = append(fields, ve.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}

	_, err := f.b.CreateStructure(f.ctx, "", bursar.CreateStructureInput{Name: "X", Year: 2025, Term: 1})
	assert.ErrorIs(t, err, bursar.ErrMissingScope)
}

func TestCreateStructureConflict(t *testing.T) {
	f := newFixture(t)
	f.structure(t, "Term 1 2025", 2025, 1)

	_, err := f.b.CreateStructure(f.ctx, school, bursar.CreateStructureInput{Name: "term 1 2025", Year: 2025, Term: 1})
	require.Error(t, err)
	assert.True(t, bursar.IsConflict(err))

	// Same name in another term is fine.
	_, err = f.b.CreateStructure(f.ctx, school, bursar.CreateStructureInput{Name: "Term 1 2025", Year: 2025, Term: 2})
	assert.NoError(t, err)
}

func TestAddItemUpsert(t *testing.T) {
	f := newFixture(t)
	fs := f.structure(t, "Term 1 2025", 2025, 1)

	first, created, err := f.b.AddItem(f.ctx, school, fs.ID, item("Tuition", 25000))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, feestructure.CategoryOther, first.Category)
	assert.Equal(t, feestructure.CycleTerm, first.BillingCycle)

	in := item("  TUITION ", 27000)
	in.Category = "tuition"
	second, created, err := f.b.AddItem(f.ctx, school, fs.ID, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	items, err := f.b.ListItems(f.ctx, school, fs.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, bursar.Major(27000, "kes"), items[0].Amount)
	assert.Equal(t, feestructure.CategoryTuition, items[0].Category)
	assert.Equal(t, "Tuition", items[0].ItemName)

	// Same name for a class is a separate, additive item.
	_, created, err = f.b.AddItem(f.ctx, school, fs.ID, classItem("cls_4", "Tuition", 3000))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := f.b.GetItemByName(f.ctx, school, fs.ID, "cls_4", "tuition")
	require.NoError(t, err)
	assert.Equal(t, bursar.Major(3000, "kes"), got.Amount)

	detail, err := f.b.GetStructure(f.ctx, school, fs.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Items, 2)
	assert.Equal(t, bursar.Major(30000, "kes"), detail.TotalAmount)
}

func TestAddItemValidation(t *testing.T) {
	f := newFixture(t)
	fs := f.structure(t, "Term 1 2025", 2025, 1)

	tests := []struct {
		name string
		in   bursar.ItemInput
	}{
		{"negative amount", bursar.ItemInput{ItemName: "Tuition", Amount: bursar.KES(-1)}},
		{"blank name", bursar.ItemInput{ItemName: "  ", Amount: bursar.KES(100)}},
		{"unknown category", bursar.ItemInput{ItemName: "Bus", Amount: bursar.KES(100), Category: "TRANSPORT"}},
		{"unknown cycle", bursar.ItemInput{ItemName: "Bus", Amount: bursar.KES(100), BillingCycle: "MONTHLY"}},
		{"foreign currency", bursar.ItemInput{ItemName: "Bus", Amount: bursar.USD(100)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.b.AddItem(f.ctx, school, fs.ID, tt.in)
			assert.True(t, bursar.IsValidation(err), "got %v", err)
		})
	}

	// Zero is allowed.
	_, _, err := f.b.AddItem(f.ctx, school, fs.ID, item("Waived", 0))
	assert.NoError(t, err)
}

func TestUpdateAndDeleteItems(t *testing.T) {
	f := newFixture(t)
	fs := f.structure(t, "Term 1 2025", 2025, 1, item("Tuition", 25000), item("Lunch", 4000), item("Bus", 3000))

	lunch, err := f.b.GetItemByName(f.ctx, school, fs.ID, "", "lunch")
	require.NoError(t, err)

	_, err = f.b.UpdateItem(f.ctx, school, lunch.ID, item("tuition", 1))
	assert.True(t, bursar.IsConflict(err), "renaming onto another key: %v", err)

	updated, err := f.b.UpdateItem(f.ctx, school, lunch.ID, item("Meals", 4500))
	require.NoError(t, err)
	assert.Equal(t, "Meals", updated.ItemName)

	require.NoError(t, f.b.DeleteItem(f.ctx, school, updated.ID))

	deleted, err := f.b.DeleteItemByName(f.ctx, school, fs.ID, "", "BUS")
	require.NoError(t, err)
	assert.Equal(t, "Bus", deleted.ItemName)

	_, err = f.b.DeleteItemByName(f.ctx, school, fs.ID, "", "Bus")
	assert.True(t, bursar.IsNotFound(err))

	n, err := f.b.DeleteAllItems(f.ctx, school, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublishRequiresItems(t *testing.T) {
	f := newFixture(t)
	fs := f.structure(t, "Empty", 2025, 1)

	_, err := f.b.PublishStructure(f.ctx, school, fs.ID)
	assert.ErrorIs(t, err, bursar.ErrStructureEmpty)
	assert.True(t, bursar.IsInvalidState(err))

	got, err := f.b.GetStructure(f.ctx, school, fs.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPublished)
}

func TestPublishedStructureIsImmutable(t *testing.T) {
	f := newFixture(t)
	fs := f.structure(t, "Term 1 2025", 2025, 1, item("Tuition", 25000))
	published, err := f.b.PublishStructure(f.ctx, school, fs.ID)
	require.NoError(t, err)
	require.NotNil(t, published.PublishedAt)
	assert.Equal(t, 1, f.recorder.published)

	tuition, err := f.b.GetItemByName(f.ctx, school, fs.ID, "", "Tuition")
	require.NoError(t, err)

	checks := map[string]func() error{
		"publish again": func() error { _, err := f.b.PublishStructure(f.ctx, school, fs.ID); return err },
		"add item":      func() error { _, _, err := f.b.AddItem(f.ctx, school, fs.ID, item("Bus", 1)); return err },
		"upsert item":   func() error { _, _, err := f.b.AddItem(f.ctx, school, fs.ID, item("Tuition", 1)); return err },
		"update item":   func() error { _, err := f.b.UpdateItem(f.ctx, school, tuition.ID, item("Tuition", 1)); return err },
		"delete item":   func() error { return f.b.DeleteItem(f.ctx, school, tuition.ID) },
		"delete by name": func() error {
			_, err := f.b.DeleteItemByName(f.ctx, school, fs.ID, "", "Tuition")
			return err
		},
		"delete all": func() error { _, err := f.b.DeleteAllItems(f.ctx, school, fs.ID); return err },
		"rename":     func() error { _, err := f.b.RenameStructure(f.ctx, school, fs.ID, "New"); return err },
	}
	for name, fn := range checks {
		t.Run(name, func(t *testing.T) {
			err := fn()
			assert.True(t, bursar.IsInvalidState(err), "got %v", err)
		})
	}

	detail, err := f.b.GetStructure(f.ctx, school, fs.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Equal(t, bursar.Major(25000, "kes"), detail.Items[0].Amount)
}

func TestSetDefaultExclusive(t *testing.T) {
	f := newFixture(t)

	a := f.structure(t, "Plan A", 2025, 3, item("Tuition", 20000))
	b := f.structure(t, "Plan B", 2025, 3, item("Tuition", 22000))
	other := f.structure(t, "Other term", 2025, 2, item("Tuition", 18000))

	_, err := f.b.SetDefaultStructure(f.ctx, school, a.ID)
	assert.ErrorIs(t, err, bursar.ErrStructureNotPublished)

	for _, fs := range []*feestructure.FeeStructure{a, b, other} {
		_, err := f.b.PublishStructure(f.ctx, school, fs.ID)
		require.NoError(t, err)
	}

	_, err = f.b.SetDefaultStructure(f.ctx, school, a.ID)
	require.NoError(t, err)
	_, err = f.b.SetDefaultStructure(f.ctx, school, other.ID)
	require.NoError(t, err)
	_, err = f.b.SetDefaultStructure(f.ctx, school, b.ID)
	require.NoError(t, err)
	// Idempotent.
	_, err = f.b.SetDefaultStructure(f.ctx, school, b.ID)
	require.NoError(t, err)

	isDefault := true
	defaults, err := f.b.ListStructures(f.ctx, school, bursar.StructureFilter{Year: 2025, Term: 3, Default: &isDefault})
	require.NoError(t, err)
	require.Len(t, defaults, 1)
	assert.Equal(t, "Plan B", defaults[0].Name)

	term2, err := f.b.ListStructures(f.ctx, school, bursar.StructureFilter{Year: 2025, Term: 2, Default: &isDefault})
	require.NoError(t, err)
	require.Len(t, term2, 1, "other terms keep their default")

	assert.Equal(t, []string{"Plan A", "Other term", "Plan B", "Plan B"}, f.recorder.defaults)
}

func TestSetDefaultConcurrent(t *testing.T) {
	f := newFixture(t)

	var ids []id.FeeStructureID
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		fs := f.structure(t, name, 2025, 1, item("Tuition", 1000))
		_, err := f.b.PublishStructure(f.ctx, school, fs.ID)
		require.NoError(t, err)
		ids = append(ids, fs.ID)
	}

	var wg sync.WaitGroup
	for range 4 {
		for _, sid := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.b.SetDefaultStructure(context.Background(), school, sid)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	isDefault := true
	defaults, err := f.b.ListStructures(f.ctx, school, bursar.StructureFilter{Year: 2025, Term: 1, Default: &isDefault})
	require.NoError(t, err)
	assert.Len(t, defaults, 1)
}

func TestListStructures(t *testing.T) {
	f := newFixture(t)
	f.structure(t, "Term 1 Day", 2025, 1, item("Tuition", 20000), item("Lunch", 5000))
	f.structure(t, "Term 1 Boarding", 2025, 1)
	f.structure(t, "Term 2 Day", 2025, 2, item("Tuition", 21000))

	all, err := f.b.ListStructures(f.ctx, school, bursar.StructureFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	nonEmpty, err := f.b.ListStructures(f.ctx, school, bursar.StructureFilter{Year: 2025, Term: 1, HideEmpty: true})
	require.NoError(t, err)
	require.Len(t, nonEmpty, 1)
	assert.Equal(t, 2, nonEmpty[0].ItemCount)
	assert.Equal(t, bursar.Major(25000, "kes"), nonEmpty[0].TotalAmount)

	day, err := f.b.ListStructures(f.ctx, school, bursar.StructureFilter{Search: "day"})
	require.NoError(t, err)
	assert.Len(t, day, 2)

	page, err := f.b.ListStructures(f.ctx, school, bursar.StructureFilter{HideEmpty: true, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestRenameStructure(t *testing.T) {
	f := newFixture(t)
	a := f.structure(t, "Draft A", 2025, 1)
	f.structure(t, "Draft B", 2025, 1)

	renamed, err := f.b.RenameStructure(f.ctx, school, a.ID, "Final A")
	require.NoError(t, err)
	assert.Equal(t, "Final A", renamed.Name)

	_, err = f.b.RenameStructure(f.ctx, school, a.ID, "draft b")
	assert.True(t, bursar.IsConflict(err), "got %v", err)

	_, err = f.b.RenameStructure(f.ctx, school, a.ID, "")
	assert.True(t, bursar.IsValidation(err))
}

func TestOtherSchoolCannotSeeStructure(t *testing.T) {
	f := newFixture(t)
	fs := f.structure(t, "Term 1 2025", 2025, 1, item("Tuition", 1000))

	_, err := f.b.GetStructure(f.ctx, "sch_2", fs.ID)
	assert.ErrorIs(t, err, bursar.ErrStructureNotFound)
	_, _, err = f.b.AddItem(f.ctx, "sch_2", fs.ID, item("Bus", 1))
	assert.ErrorIs(t, err, bursar.ErrStructureNotFound)
	_, err = f.b.PublishStructure(f.ctx, "sch_2", fs.ID)
	assert.ErrorIs(t, err, bursar.ErrStructureNotFound)
}

func TestDeleteStructure(t *testing.T) {
	f := newFixture(t)
	draft := f.structure(t, "Scratch", 2025, 2, item("Tuition", 1000))
	require.NoError(t, f.b.DeleteStructure(f.ctx, school, draft.ID))
	_, err := f.b.GetStructure(f.ctx, school, draft.ID)
	assert.True(t, bursar.IsNotFound(err))

	fs := f.defaultStructure(t, 2025, 1, item("Tuition", 1000))
	_, err = f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)

	err = f.b.DeleteStructure(f.ctx, school, fs.ID)
	assert.ErrorIs(t, err, bursar.ErrStructureInvoiced)
	assert.True(t, bursar.IsInvalidState(err))
}
