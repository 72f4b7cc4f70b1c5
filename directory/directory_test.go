package directory_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/directory"
)

func seed() *directory.Static {
	return directory.NewStatic().
		AddStudents(
			directory.Student{ID: "stu_1", SchoolID: "sch_1", Name: "Amina Njeri", ClassID: "cls_4", Active: true},
			directory.Student{ID: "stu_2", SchoolID: "sch_1", Name: "Brian Otieno", ClassID: "cls_5", Active: true},
			directory.Student{ID: "stu_3", SchoolID: "sch_1", Name: "Carol Amina", ClassID: "cls_4", Active: false},
			directory.Student{ID: "stu_9", SchoolID: "sch_2", Name: "Other School", ClassID: "cls_4", Active: true},
		).
		AddClasses(
			directory.Class{ID: "cls_4", SchoolID: "sch_1", Name: "Grade 4"},
			directory.Class{ID: "cls_5", SchoolID: "sch_1", Name: "Grade 5"},
		)
}

func TestStaticListActive(t *testing.T) {
	d := seed()
	ctx := context.Background()

	all, err := d.ListActive(ctx, "sch_1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "stu_1", all[0].ID)
	assert.Equal(t, "stu_2", all[1].ID)

	grade4, err := d.ListActive(ctx, "sch_1", "cls_4")
	require.NoError(t, err)
	require.Len(t, grade4, 1)
	assert.Equal(t, "stu_1", grade4[0].ID)
}

func TestStaticLookups(t *testing.T) {
	d := seed()
	ctx := context.Background()

	st, err := d.Get(ctx, "sch_1", "stu_2")
	require.NoError(t, err)
	assert.Equal(t, "Brian Otieno", st.Name)

	_, err = d.Get(ctx, "sch_2", "stu_2")
	assert.ErrorIs(t, err, directory.ErrNotFound)

	found, err := d.FindByName(ctx, "sch_1", "amina")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	classes := d.ClassDirectory()
	cl, err := classes.FindByName(ctx, "sch_1", "grade4")
	require.NoError(t, err)
	assert.Equal(t, "cls_4", cl.ID)

	_, err = classes.FindByName(ctx, "sch_1", "grade 9")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestTermFor(t *testing.T) {
	tests := []struct {
		date time.Time
		term int
	}{
		{time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC), 3},
		{time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), 3},
	}
	for _, tt := range tests {
		got := directory.TermFor(tt.date)
		assert.Equal(t, 2025, got.Year)
		assert.Equal(t, tt.term, got.Term, tt.date.String())
	}
}

func TestCachedStudents(t *testing.T) {
	d := seed()
	c := directory.NewCachedStudents(d, 16, time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "sch_1", "stu_1")
	require.NoError(t, err)
	_, err = c.Get(ctx, "sch_1", "stu_1")
	require.NoError(t, err)

	// Cached entries survive a change in the source until purged.
	d.AddStudents(directory.Student{ID: "stu_1", SchoolID: "sch_1", Name: "Renamed", ClassID: "cls_4", Active: true})
	st, err := c.Get(ctx, "sch_1", "stu_1")
	require.NoError(t, err)
	assert.Equal(t, "Amina Njeri", st.Name)

	c.Purge()
	st, err = c.Get(ctx, "sch_1", "stu_1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", st.Name)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)

	// Errors are not cached.
	_, err = c.Get(ctx, "sch_1", "missing")
	assert.ErrorIs(t, err, directory.ErrNotFound)
	d.AddStudents(directory.Student{ID: "missing", SchoolID: "sch_1", Name: "Late", Active: true})
	_, err = c.Get(ctx, "sch_1", "missing")
	assert.NoError(t, err)
}

func TestCachedClasses(t *testing.T) {
	c := directory.NewCachedClasses(seed().ClassDirectory(), 0, 0)
	ctx := context.Background()

	for range 3 {
		cl, err := c.FindByName(ctx, "sch_1", "Grade 5")
		require.NoError(t, err)
		assert.Equal(t, "cls_5", cl.ID)
	}
	assert.Equal(t, directory.CacheStats{Hits: 2, Misses: 1}, c.Stats())
}

func TestLoadSeed(t *testing.T) {
	doc := `
schools:
  - id: sch_1
    term: {year: 2025, term: 2}
    classes:
      - {id: cls_4, name: Grade 4}
    students:
      - {id: stu_1, name: Amina Njeri, class_id: cls_4}
      - {id: stu_2, name: Brian Otieno, class_id: cls_4, inactive: true}
`
	dir, err := directory.LoadSeed(strings.NewReader(doc))
	require.NoError(t, err)

	ctx := context.Background()
	active, err := dir.ListActive(ctx, "sch_1", "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Amina Njeri", active[0].Name)

	c, err := dir.ClassDirectory().FindByName(ctx, "sch_1", "grade 4")
	require.NoError(t, err)
	assert.Equal(t, "cls_4", c.ID)

	term, err := dir.Current(ctx, "sch_1")
	require.NoError(t, err)
	assert.Equal(t, 2025, term.Year)
	assert.Equal(t, 2, term.Term)

	_, err = directory.LoadSeed(strings.NewReader("schools:\n  - students: [{id: x, name: y}]\n"))
	assert.Error(t, err)
}
