package directory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	_ Students = (*Static)(nil)
	_ Classes  = classView{}
	_ Terms    = (*Static)(nil)
)

// Static is an in-memory directory, loaded from config or seeded by tests.
type Static struct {
	mu       sync.RWMutex
	students map[string]Student // key: school + id
	classes  map[string]Class
	terms    map[string]Term // key: school
	now      func() time.Time
}

// NewStatic returns an empty directory.
func NewStatic() *Static {
	return &Static{
		students: make(map[string]Student),
		classes:  make(map[string]Class),
		terms:    make(map[string]Term),
		now:      time.Now,
	}
}

func key(schoolID, id string) string { return schoolID + "/" + id }

// AddStudents adds or replaces students.
func (s *Static) AddStudents(students ...Student) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range students {
		s.students[key(st.SchoolID, st.ID)] = st
	}
	return s
}

// AddClasses adds or replaces classes.
func (s *Static) AddClasses(classes ...Class) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range classes {
		s.classes[key(c.SchoolID, c.ID)] = c
	}
	return s
}

// SetTerm sets the school's current term.
func (s *Static) SetTerm(schoolID string, t Term) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[schoolID] = t
	return s
}

func (s *Static) ListActive(_ context.Context, schoolID, classID string) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Student
	for _, st := range s.students {
		if st.SchoolID != schoolID || !st.Active {
			continue
		}
		if classID != "" && st.ClassID != classID {
			continue
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b Student) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Static) Get(_ context.Context, schoolID, studentID string) (*Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[key(schoolID, studentID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *Static) FindByName(_ context.Context, schoolID, name string) ([]Student, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Student
	for _, st := range s.students {
		if st.SchoolID == schoolID && strings.Contains(strings.ToLower(st.Name), needle) {
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b Student) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// classView carries the Classes methods, whose names clash with Students.
type classView struct{ *Static }

// ClassDirectory returns the Classes view of s.
func (s *Static) ClassDirectory() Classes { return classView{s} }

func (c classView) Get(_ context.Context, schoolID, classID string) (*Class, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cl, ok := c.classes[key(schoolID, classID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &cl, nil
}

func (c classView) FindByName(_ context.Context, schoolID, name string) (*Class, error) {
	needle := normalizeClassName(name)
	if needle == "" {
		return nil, ErrNotFound
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var partial *Class
	for _, cl := range c.classes {
		if cl.SchoolID != schoolID {
			continue
		}
		n := normalizeClassName(cl.Name)
		if n == needle {
			found := cl
			return &found, nil
		}
		if strings.Contains(n, needle) && (partial == nil || cl.Name < partial.Name) {
			found := cl
			partial = &found
		}
	}
	if partial == nil {
		return nil, ErrNotFound
	}
	return partial, nil
}

func (s *Static) Current(_ context.Context, schoolID string) (Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.terms[schoolID]; ok {
		return t, nil
	}
	return TermFor(s.now()), nil
}

// TermFor maps a date onto the three-term calendar: Jan-Apr is term 1,
// May-Aug term 2 and Sep-Dec term 3.
func TermFor(t time.Time) Term {
	term := (int(t.Month())-1)/4 + 1
	start := time.Date(t.Year(), time.Month((term-1)*4+1), 1, 0, 0, 0, 0, t.Location())
	return Term{Year: t.Year(), Term: term, Start: start, End: start.AddDate(0, 4, -1)}
}

// normalizeClassName folds "Grade 4", "grade4" and "GRADE  4" together.
func normalizeClassName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(s, "-", " "))), "")
}
