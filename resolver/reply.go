package resolver

import (
	"fmt"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
)

// BlockKind tells a client how to render a Block.
type BlockKind string

const (
	BlockTable      BlockKind = "table"
	BlockDetail     BlockKind = "detail"
	BlockCandidates BlockKind = "candidates"
)

// Block is structured content shown alongside the reply text.
type Block struct {
	Kind    BlockKind  `json:"kind"`
	Title   string     `json:"title,omitempty"`
	Columns []string   `json:"columns,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
}

// Reply is the answer to one conversational turn. Completed actions and
// slot-filling questions share the same shape.
type Reply struct {
	ConversationID string   `json:"conversation_id"`
	Text           string   `json:"text"`
	Blocks         []Block  `json:"blocks,omitempty"`
	Intent         Intent   `json:"intent"`
	ActionTaken    bool     `json:"action_taken"`
	Data           any      `json:"data,omitempty"`
	MissingFields  []Field  `json:"missing_fields"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

func structureTable(title string, summaries []*feestructure.Summary) Block {
	b := Block{
		Kind:    BlockTable,
		Title:   title,
		Columns: []string{"Name", "Level", "Term", "Items", "Total", "Status"},
	}
	for _, s := range summaries {
		b.Rows = append(b.Rows, []string{
			s.Name,
			s.Level,
			fmt.Sprintf("Term %d %d", s.Term, s.Year),
			fmt.Sprint(s.ItemCount),
			s.TotalAmount.String(),
			structureStatus(&s.FeeStructure),
		})
	}
	return b
}

func candidateBlock(summaries []*feestructure.Summary) Block {
	b := structureTable("Which one did you mean?", summaries)
	b.Kind = BlockCandidates
	return b
}

func structureStatus(fs *feestructure.FeeStructure) string {
	switch {
	case fs.IsDefault:
		return "default"
	case fs.IsPublished:
		return "published"
	}
	return "draft"
}

func itemTable(d *feestructure.Detail, className func(string) string) Block {
	b := Block{
		Kind:    BlockTable,
		Title:   fmt.Sprintf("%s (Term %d %d)", d.Name, d.Term, d.Year),
		Columns: []string{"Item", "Class", "Category", "Amount"},
	}
	for _, it := range d.Items {
		class := "All"
		if it.ClassID != "" {
			class = className(it.ClassID)
		}
		b.Rows = append(b.Rows, []string{it.ItemName, class, string(it.Category), it.Amount.String()})
	}
	b.Rows = append(b.Rows, []string{"Total", "", "", d.TotalAmount.String()})
	return b
}

func invoiceTable(title string, views []*invoice.View, studentName func(string) string) Block {
	b := Block{
		Kind:    BlockTable,
		Title:   title,
		Columns: []string{"Student", "Term", "Total", "Paid", "Balance", "Status"},
	}
	for _, v := range views {
		b.Rows = append(b.Rows, []string{
			studentName(v.StudentID),
			fmt.Sprintf("Term %d %d", v.Term, v.Year),
			v.Total.String(),
			v.Paid.String(),
			v.Balance.String(),
			string(v.Status),
		})
	}
	return b
}

func invoiceDetail(v *invoice.View, student string) Block {
	b := Block{
		Kind:    BlockDetail,
		Title:   fmt.Sprintf("Invoice for %s, Term %d %d", student, v.Term, v.Year),
		Columns: []string{"Item", "Amount"},
	}
	for _, l := range v.Lines {
		b.Rows = append(b.Rows, []string{l.ItemName, l.Amount.String()})
	}
	b.Rows = append(b.Rows,
		[]string{"Total", v.Total.String()},
		[]string{"Paid", v.Paid.String()},
		[]string{"Balance", v.Balance.String()},
	)
	if v.Overpayment.IsPositive() {
		b.Rows = append(b.Rows, []string{"Overpaid", v.Overpayment.String()})
	}
	b.Rows = append(b.Rows, []string{"Status", string(v.Status)})
	return b
}
