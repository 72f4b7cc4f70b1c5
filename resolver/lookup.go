package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/feestructure"
)

// needInput stops execution and asks the user for one field again,
// keeping the rest of the request.
type needInput struct {
	field  Field
	text   string
	blocks []Block
}

func (n *needInput) Error() string { return n.text }

// structureUse says what the caller will do with the structure it looks up.
type structureUse int

const (
	forReading structureUse = iota
	forEditing
)

// findStructure resolves a user's reference to one structure:
//  1. exact case-insensitive name;
//  2. structures of the referenced (year, term), preferring ones with
//     items, then level ALL;
//  3. substring match on names.
//
// A "Term N YYYY" name is read as a period reference and skips step 1 when
// reading. Editing tries the exact name first and ranks drafts above
// published structures.
//
// A tie at steps 2 or 3 returns the candidates instead of guessing.
func (r *Resolver) findStructure(ctx context.Context, schoolID string, ref StructureRef, use structureUse) (*feestructure.Summary, error) {
	all, err := r.b.ListStructures(ctx, schoolID, bursar.StructureFilter{})
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(ref.Name)
	year, term := ref.Year, ref.Term
	if m := termPhrase.FindStringSubmatch(name); m != nil {
		term, _ = strconv.Atoi(m[1])
		year, _ = strconv.Atoi(m[2])
		if use == forReading {
			name = ""
		}
	}

	if name != "" {
		for _, s := range all {
			if strings.EqualFold(s.Name, name) {
				return s, nil
			}
		}
	}

	if year != 0 && term != 0 {
		var inTerm []*feestructure.Summary
		for _, s := range all {
			if s.Year == year && s.Term == term {
				inTerm = append(inTerm, s)
			}
		}
		if len(inTerm) > 0 {
			best := bestRanked(inTerm, use)
			if len(best) == 1 {
				return best[0], nil
			}
			return nil, &needInput{
				field:  FieldStructureName,
				text:   fmt.Sprintf("There are %d fee structures for Term %d %d. Which one did you mean?", len(best), term, year),
				blocks: []Block{candidateBlock(best)},
			}
		}
	}

	if name != "" {
		needle := strings.ToLower(name)
		var matches []*feestructure.Summary
		for _, s := range all {
			hay := strings.ToLower(s.Name)
			if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
				matches = append(matches, s)
			}
		}
		switch len(matches) {
		case 1:
			return matches[0], nil
		case 0:
		default:
			return nil, &needInput{
				field:  FieldStructureName,
				text:   fmt.Sprintf("Several fee structures match %q. Which one did you mean?", name),
				blocks: []Block{candidateBlock(matches)},
			}
		}
	}

	what := name
	if what == "" {
		what = fmt.Sprintf("Term %d %d", term, year)
	}
	miss := &needInput{
		field: FieldStructureName,
		text:  fmt.Sprintf("I couldn't find a fee structure for %q. Which structure did you mean?", what),
	}
	if len(all) > 0 {
		miss.blocks = []Block{structureTable("Existing fee structures", all)}
	}
	return nil, miss
}

// bestRanked returns the structures sharing the top rank. One default among
// them breaks the tie.
func bestRanked(in []*feestructure.Summary, use structureUse) []*feestructure.Summary {
	rank := func(s *feestructure.Summary) int {
		n := 0
		if use == forEditing && !s.IsPublished {
			n += 4
		}
		if s.ItemCount > 0 {
			n += 2
		}
		if s.Level == feestructure.LevelAll {
			n++
		}
		return n
	}
	top := -1
	var best []*feestructure.Summary
	for _, s := range in {
		switch k := rank(s); {
		case k > top:
			top, best = k, []*feestructure.Summary{s}
		case k == top:
			best = append(best, s)
		}
	}
	if len(best) > 1 {
		var defaults []*feestructure.Summary
		for _, s := range best {
			if s.IsDefault {
				defaults = append(defaults, s)
			}
		}
		if len(defaults) == 1 {
			return defaults
		}
	}
	return best
}

// findStudent resolves a student id or name.
func (r *Resolver) findStudent(ctx context.Context, schoolID, name string) (*directory.Student, error) {
	if r.students == nil {
		return nil, errors.New("resolver: no student directory configured")
	}
	name = strings.TrimSpace(name)
	if st, err := r.students.Get(ctx, schoolID, name); err == nil {
		return st, nil
	} else if !errors.Is(err, directory.ErrNotFound) {
		return nil, err
	}

	found, err := r.students.FindByName(ctx, schoolID, name)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 1:
		return &found[0], nil
	case 0:
		return nil, &needInput{
			field: FieldStudent,
			text:  fmt.Sprintf("I couldn't find a student called %q. Who did you mean?", name),
		}
	}
	block := Block{Kind: BlockCandidates, Title: "Which student?", Columns: []string{"Name", "ID", "Class"}}
	for _, st := range found {
		block.Rows = append(block.Rows, []string{st.Name, st.ID, r.className(ctx, schoolID, st.ClassID)})
	}
	return nil, &needInput{
		field:  FieldStudent,
		text:   fmt.Sprintf("%d students match %q. Which one?", len(found), name),
		blocks: []Block{block},
	}
}

// findClass resolves a class name to its id. An empty name is no filter.
func (r *Resolver) findClass(ctx context.Context, schoolID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if r.classes == nil {
		return name, nil
	}
	cl, err := r.classes.FindByName(ctx, schoolID, name)
	if err == nil {
		return cl.ID, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return "", err
	}
	if cl, err := r.classes.Get(ctx, schoolID, name); err == nil {
		return cl.ID, nil
	}
	return "", &needInput{
		field: FieldClass,
		text:  fmt.Sprintf("I couldn't find a class called %q. Which class?", name),
	}
}

// period fills in the current term for a zero year or term.
func (r *Resolver) period(ctx context.Context, schoolID string, p Period) (int, int, error) {
	if p.Year != 0 && p.Term != 0 {
		return p.Year, p.Term, nil
	}
	cur, err := r.currentTerm(ctx, schoolID)
	if err != nil {
		return 0, 0, err
	}
	if p.Year == 0 {
		p.Year = cur.Year
	}
	if p.Term == 0 {
		p.Term = cur.Term
	}
	return p.Year, p.Term, nil
}

func (r *Resolver) currentTerm(ctx context.Context, schoolID string) (directory.Term, error) {
	if r.terms != nil {
		return r.terms.Current(ctx, schoolID)
	}
	return directory.TermFor(r.now()), nil
}

func (r *Resolver) className(ctx context.Context, schoolID, classID string) string {
	if classID == "" || r.classes == nil {
		return classID
	}
	if cl, err := r.classes.Get(ctx, schoolID, classID); err == nil {
		return cl.Name
	}
	return classID
}

func (r *Resolver) studentName(ctx context.Context, schoolID string) func(string) string {
	return func(studentID string) string {
		if r.students == nil {
			return studentID
		}
		if st, err := r.students.Get(ctx, schoolID, studentID); err == nil {
			return st.Name
		}
		return studentID
	}
}
