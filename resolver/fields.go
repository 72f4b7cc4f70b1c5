package resolver

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/types"
)

// Field names one parameter a request can carry. The names match the
// entity keys the understanding model is asked to return.
type Field string

const (
	FieldYear          Field = "year"
	FieldTerm          Field = "term"
	FieldStructureName Field = "structure_name"
	FieldLevel         Field = "level"
	FieldItemName      Field = "item_name"
	FieldAmount        Field = "amount"
	FieldCategory      Field = "category"
	FieldClass         Field = "class"
	FieldStudent       Field = "student"
	FieldMethod        Field = "method"
	FieldReference     Field = "reference"
	FieldStatus        Field = "status"
	FieldReason        Field = "reason"
	FieldAnswer        Field = "answer"
)

var prompts = map[Field]string{
	FieldYear:          "Which academic year? (e.g. 2025)",
	FieldTerm:          "Which term: 1, 2 or 3?",
	FieldStructureName: "Which fee structure? Give its name or the term, e.g. \"Term 1 2025\".",
	FieldLevel:         "Which level is it for? Say \"all\" if it applies to every grade.",
	FieldItemName:      "What is the fee item called? (e.g. Tuition, Lunch, Transport)",
	FieldAmount:        "How much? (e.g. 25,000)",
	FieldCategory:      "Which category: tuition, co-curricular or other?",
	FieldClass:         "Which class? (e.g. Grade 4)",
	FieldStudent:       "Which student?",
	FieldMethod:        "How was it paid: M-Pesa, cash or bank?",
	FieldReference:     "What is the payment reference or receipt number?",
	FieldStatus:        "Which status: draft, issued, partial, paid or cancelled?",
	FieldReason:        "Why is it being cancelled?",
	FieldAnswer:        "Please answer yes or no.",
}

// Prompt is the question asked when f is missing.
func (f Field) Prompt() string {
	if p, ok := prompts[f]; ok {
		return p
	}
	return "Please provide the " + strings.ReplaceAll(string(f), "_", " ") + "."
}

// freeText fields accept a bare reply when they are the only thing missing.
func (f Field) freeText() bool {
	switch f {
	case FieldStructureName, FieldItemName, FieldStudent, FieldClass, FieldReason, FieldReference, FieldLevel:
		return true
	}
	return false
}

var (
	yearShape = regexp.MustCompile(`^(19|20)\d{2}$`)
	termShape = regexp.MustCompile(`^[1-3]$`)
	// referenceShape accepts receipt numbers and M-Pesa codes.
	referenceShape = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/\- ]{2,63}$`)
	// termPhrase is a structure reference that only names a term.
	termPhrase = regexp.MustCompile(`(?i)^term\s*([1-3])\s*,?\s*((?:19|20)\d{2})$`)
)

// shapeOK reports whether v looks like a value of f. Amounts are checked
// against currency.
func shapeOK(f Field, v, currency string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	switch f {
	case FieldYear:
		return yearShape.MatchString(v)
	case FieldTerm:
		return termShape.MatchString(strings.TrimPrefix(strings.ToLower(v), "term "))
	case FieldAmount:
		_, err := types.ParseMoney(v, currency)
		return err == nil
	case FieldMethod:
		_, ok := payment.ParseMethod(v)
		return ok
	case FieldAnswer:
		_, ok := parseAnswer(v)
		return ok
	case FieldStatus:
		_, ok := parseStatus(v)
		return ok
	case FieldCategory:
		_, ok := parseCategory(v)
		return ok
	case FieldReference:
		return referenceShape.MatchString(v)
	}
	return true
}

// ShapeCorrect returns year and term swapped when each has the other's
// shape, e.g. year "3" and term "2025". The bool reports a swap. When
// neither order fits the values come back unchanged.
func ShapeCorrect(year, term string) (string, string, bool) {
	y, t := strings.TrimSpace(year), strings.TrimSpace(term)
	if y == "" && t == "" {
		return year, term, false
	}
	if (y == "" || yearShape.MatchString(y)) && (t == "" || termShape.MatchString(t)) {
		return y, t, false
	}
	if (t == "" || yearShape.MatchString(t)) && (y == "" || termShape.MatchString(y)) {
		return t, y, true
	}
	return year, term, false
}

// ──────────────────────────────────────────────────
// Field-scoped regex extraction
// ──────────────────────────────────────────────────

var (
	reYearContext = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bterm\s*[1-3]\s*(?:,|of|in)?\s*((?:19|20)\d{2})\b`),
		regexp.MustCompile(`(?i)\b((?:19|20)\d{2})\s*,?\s*term\s*[1-3]\b`),
		regexp.MustCompile(`(?i)\b(?:year|in|for)\s+((?:19|20)\d{2})\b`),
	}
	reYearBare = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	reTerm     = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bterm\s*([1-3])\b`),
		regexp.MustCompile(`(?i)\b([1-3])(?:st|nd|rd)\s+term\b`),
		regexp.MustCompile(`(?i)\bt([1-3])\b`),
	}
	reTermWord = regexp.MustCompile(`(?i)\b(first|second|third)\s+term\b`)

	reAmountMarked = regexp.MustCompile(`(?i)(?:ksh\.?|kes|kshs\.?)\s*(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)|(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)\s*(?:ksh|kes|shillings?|bob|/=)`)
	reAmountK      = regexp.MustCompile(`(?i)\b(\d+(?:\.\d)?)\s*k\b`)
	reNumber       = regexp.MustCompile(`\b(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)\b`)

	reQuoted    = regexp.MustCompile(`["“']([^"”']{2,60})["”']`)
	reStructure = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:structure|package)\s+(?:called|named)\s+(.+?)\s*$`),
		regexp.MustCompile(`(?i)\b(?:to|from|in|publish|default|show)\s+(?:the\s+)?([a-z][\w\- ]*?(?:package|plan|fees))\b`),
		regexp.MustCompile(`(?i)\b(?:to|from|in|publish)\s+(?:the\s+)?(term\s*[1-3]\s*,?\s*(?:19|20)\d{2})\b`),
		regexp.MustCompile(`(?i)^\s*publish\s+(?:the\s+)?(?:fee\s+structure\s+)?(.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*(?:make|set)\s+(?:the\s+)?(.+?)\s+(?:the\s+)?(?:as\s+)?default\b`),
	}
	reItem = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bitem\s+(?:called\s+|named\s+)?([a-z][a-z\- &]*?)\s*(?:\bof\b|\bfor\b|\bat\b|\bto\b|\bfrom\b|ksh|kes|\d|$)`),
		regexp.MustCompile(`(?i)^\s*add\s+(?:an?\s+)?(?:fee\s+)?([a-z][a-z\- &]*?)\s*(?:\bof\b|\bfor\b|\bat\b|\bto\b|ksh|kes|\d)`),
		regexp.MustCompile(`(?i)^\s*(?:remove|delete|drop)\s+(?:the\s+)?(?:fee\s+)?([a-z][a-z\- &]*?)\s*(?:\bfrom\b|\bin\b|\bfor\b|$)`),
	}
	reClass   = regexp.MustCompile(`(?i)\b(grade|form|class|pp)\s*(\d{1,2})(\s+(?:east|west|north|south|red|blue|green|yellow|[a-d])\b)?`)
	reStudent = []*regexp.Regexp{
		regexp.MustCompile(`\b(stu_[A-Za-z0-9]+)\b`),
		regexp.MustCompile(`(?i)\bstudent\s+([a-z]+(?:\s+[a-z]+)?)`),
		regexp.MustCompile(`\b(?:for|from|of|by)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
		regexp.MustCompile(`^\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\s+(?:paid|has paid|owes)\b`),
	}
	reMethod    = regexp.MustCompile(`(?i)\b(m-?pesa|cash|bank(?:\s+transfer|\s+deposit)?|cheque)\b`)
	reReference = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:ref(?:erence)?|code|receipt|txn|transaction)\s*(?:no\.?|number|#)?\s*[:#]?\s*([A-Z0-9]{5,})\b`),
		regexp.MustCompile(`\b([A-Z]{2,}[0-9][A-Z0-9]{4,})\b`),
	}
	reAnswer   = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yup|sure|ok(?:ay)?|confirm(?:ed)?|do it|go ahead|please do|no|nope|nah|not now|don'?t|leave it)\b`)
	reStatus   = regexp.MustCompile(`(?i)\b(draft|issued|partial(?:ly paid)?|paid|cancell?ed)\b`)
	reCategory = regexp.MustCompile(`(?i)\b(tuition|co-?curricular|other)\b`)
	reLevel    = regexp.MustCompile(`(?i)\b(?:level|for)\s+(all(?:\s+levels|\s+grades)?|grade\s*\d{1,2}|pp\s*\d)\b`)
	reReason   = regexp.MustCompile(`(?i)\b(?:because|since|reason[:\s]+|as)\s+(.{3,})$`)
)

// bareYear finds a year with no surrounding context, e.g. "invoices 2025".
// It is only tried for requests that take no amount.
func bareYear(text string) string {
	if m := reYearBare.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// extract pulls f out of text with its field-scoped pattern, or "".
func extract(f Field, text string) string {
	switch f {
	case FieldYear:
		for _, re := range reYearContext {
			if m := re.FindStringSubmatch(text); m != nil {
				return m[1]
			}
		}
	case FieldTerm:
		for _, re := range reTerm {
			if m := re.FindStringSubmatch(text); m != nil {
				return m[1]
			}
		}
		if m := reTermWord.FindStringSubmatch(text); m != nil {
			return map[string]string{"first": "1", "second": "2", "third": "3"}[strings.ToLower(m[1])]
		}
	case FieldAmount:
		return extractAmount(text)
	case FieldStructureName:
		if m := reQuoted.FindStringSubmatch(text); m != nil {
			return m[1]
		}
		for _, re := range reStructure {
			if m := re.FindStringSubmatch(text); m != nil {
				return strings.TrimSpace(m[1])
			}
		}
	case FieldItemName:
		if m := reQuoted.FindStringSubmatch(text); m != nil {
			return m[1]
		}
		for _, re := range reItem {
			if m := re.FindStringSubmatch(text); m != nil {
				name := strings.TrimSpace(m[1])
				if !stopWords[strings.ToLower(name)] {
					return name
				}
			}
		}
	case FieldClass:
		if m := reClass.FindStringSubmatch(text); m != nil {
			name := titleCase(m[1]) + " " + m[2]
			if suffix := titleCase(m[3]); suffix != "" {
				name += " " + suffix
			}
			return name
		}
	case FieldStudent:
		for _, re := range reStudent {
			if m := re.FindStringSubmatch(text); m != nil {
				name := strings.TrimSpace(m[1])
				if !stopWords[strings.ToLower(strings.Fields(name)[0])] {
					return name
				}
			}
		}
	case FieldMethod:
		if m := reMethod.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	case FieldReference:
		for _, re := range reReference {
			if m := re.FindStringSubmatch(text); m != nil {
				return m[1]
			}
		}
	case FieldAnswer:
		if m := reAnswer.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	case FieldStatus:
		if m := reStatus.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	case FieldCategory:
		if m := reCategory.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	case FieldLevel:
		if m := reLevel.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	case FieldReason:
		if m := reReason.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// Words that the name patterns pick up but never name an item or student.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "fee": true, "fees": true, "item": true,
	"term": true, "grade": true, "class": true, "payment": true, "invoice": true,
	"invoices": true, "structure": true, "all": true, "student": true, "it": true,
	"mpesa": true, "m-pesa": true, "cash": true, "bank": true,
}

// extractAmount prefers currency-marked numbers, then "25k", then the first
// number that is not part of a year or term reference.
func extractAmount(text string) string {
	if m := reAmountMarked.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	if m := reAmountK.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return strconv.FormatFloat(v*1000, 'f', -1, 64)
		}
	}

	masked := text
	for _, re := range append(append([]*regexp.Regexp{}, reYearContext...), reTerm...) {
		masked = re.ReplaceAllStringFunc(masked, func(s string) string { return strings.Repeat(" ", len(s)) })
	}
	masked = reClass.ReplaceAllStringFunc(masked, func(s string) string { return strings.Repeat(" ", len(s)) })
	for _, ref := range reReference {
		masked = ref.ReplaceAllStringFunc(masked, func(s string) string { return strings.Repeat(" ", len(s)) })
	}
	if m := reNumber.FindStringSubmatch(masked); m != nil {
		return m[1]
	}
	return ""
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 2 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// ──────────────────────────────────────────────────
// Typed parameters
// ──────────────────────────────────────────────────

// Params are the typed values extracted from one turn. Zero values mean
// "not mentioned".
type Params struct {
	Year          int
	Term          int
	StructureName string
	Level         string
	ItemName      string
	Amount        *types.Money
	Category      feestructure.Category
	Class         string
	Student       string
	Method        payment.Method
	Reference     string
	Status        invoice.Status
	Reason        string
	Answer        *bool
}

// parse converts raw strings into Params, dropping values that do not
// parse so they stay missing.
func parse(raw map[Field]string, currency string, logger *slog.Logger) Params {
	var p Params
	for f, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		switch f {
		case FieldYear:
			if yearShape.MatchString(v) {
				p.Year, _ = strconv.Atoi(v)
			}
		case FieldTerm:
			v = strings.TrimPrefix(strings.ToLower(v), "term ")
			if termShape.MatchString(v) {
				p.Term, _ = strconv.Atoi(v)
			}
		case FieldStructureName:
			p.StructureName = v
		case FieldLevel:
			p.Level = v
		case FieldItemName:
			p.ItemName = v
		case FieldAmount:
			m, err := types.ParseMoney(v, currency)
			if err != nil {
				logger.Debug("resolver: dropping unparseable amount", "value", v, "error", err)
				continue
			}
			p.Amount = &m
		case FieldCategory:
			p.Category, _ = parseCategory(v)
		case FieldClass:
			p.Class = v
		case FieldStudent:
			p.Student = v
		case FieldMethod:
			p.Method, _ = payment.ParseMethod(v)
		case FieldReference:
			p.Reference = strings.ToUpper(v)
		case FieldStatus:
			p.Status, _ = parseStatus(v)
		case FieldReason:
			p.Reason = v
		case FieldAnswer:
			if yes, ok := parseAnswer(v); ok {
				p.Answer = &yes
			}
		}
	}
	return p
}

func parseAnswer(s string) (bool, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), ".!")) {
	case "yes", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "confirmed", "do it", "go ahead", "please do", "y", "true":
		return true, true
	case "no", "nope", "nah", "not now", "dont", "don't", "leave it", "n", "false":
		return false, true
	}
	return false, false
}

func parseStatus(s string) (invoice.Status, bool) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case v == "CANCELED":
		v = "CANCELLED"
	case strings.HasPrefix(v, "PARTIAL"):
		v = "PARTIAL"
	}
	st := invoice.Status(v)
	return st, st.Valid()
}

func parseCategory(s string) (feestructure.Category, bool) {
	v := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	c := feestructure.Category(v)
	return c, c.Valid()
}
