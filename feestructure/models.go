// Package feestructure defines fee catalogs: a FeeStructure per school,
// year, term and level, and the priced FeeItems inside it.
package feestructure

import (
	"strings"
	"time"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// LevelAll marks a structure that applies to every grade.
const LevelAll = "ALL"

// Field limits.
const (
	MaxNameLen  = 128
	MaxLevelLen = 32
	MinYear     = 2000
	MaxYear     = 2100
	MinTerm     = 1
	MaxTerm     = 3
)

// FeeStructure is a named catalog of fee items for one (year, term, level).
type FeeStructure struct {
	types.Entity
	ID          id.FeeStructureID `json:"id"`
	SchoolID    string            `json:"school_id"`
	Name        string            `json:"name"`
	Level       string            `json:"level"`
	Year        int               `json:"year"`
	Term        int               `json:"term"`
	IsDefault   bool              `json:"is_default"`
	IsPublished bool              `json:"is_published"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}

// Category groups fee items on invoices and reports.
type Category string

const (
	CategoryTuition      Category = "TUITION"
	CategoryCocurricular Category = "COCURRICULAR"
	CategoryOther        Category = "OTHER"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryTuition, CategoryCocurricular, CategoryOther:
		return true
	}
	return false
}

// BillingCycle says how often an item is charged.
type BillingCycle string

const (
	CycleTerm   BillingCycle = "TERM"
	CycleAnnual BillingCycle = "ANNUAL"
	CycleOneOff BillingCycle = "ONE_OFF"
)

// Valid reports whether b is a known billing cycle.
func (b BillingCycle) Valid() bool {
	switch b {
	case CycleTerm, CycleAnnual, CycleOneOff:
		return true
	}
	return false
}

// FeeItem is one priced line in a structure. An empty ClassID applies the
// item to every student; a non-empty ClassID adds it for that class only.
type FeeItem struct {
	types.Entity
	ID           id.FeeItemID      `json:"id"`
	SchoolID     string            `json:"school_id"`
	StructureID  id.FeeStructureID `json:"structure_id"`
	ClassID      string            `json:"class_id,omitempty"`
	ItemName     string            `json:"item_name"`
	Amount       types.Money       `json:"amount"`
	Category     Category          `json:"category"`
	BillingCycle BillingCycle      `json:"billing_cycle"`
	IsOptional   bool              `json:"is_optional"`
}

// Key is the idempotency key of an item within its structure.
func (i *FeeItem) Key() string {
	return ItemKey(i.ClassID, i.ItemName)
}

// AppliesTo reports whether the item is charged to a student in classID.
func (i *FeeItem) AppliesTo(classID string) bool {
	return i.ClassID == "" || i.ClassID == classID
}

// ItemKey builds the case-insensitive (class, name) key.
func ItemKey(classID, name string) string {
	return classID + "\x00" + strings.ToLower(strings.TrimSpace(name))
}

// NormalizeLevel upper-cases a level and defaults it to LevelAll.
func NormalizeLevel(level string) string {
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		return LevelAll
	}
	return level
}

// Summary is a structure with its item count and total, used by listings.
type Summary struct {
	FeeStructure
	ItemCount   int         `json:"item_count"`
	TotalAmount types.Money `json:"total_amount"`
}

// Detail is a structure with all of its items.
type Detail struct {
	FeeStructure
	Items       []*FeeItem  `json:"items"`
	TotalAmount types.Money `json:"total_amount"`
}

// Total sums every item amount in the given currency.
func Total(currency string, items []*FeeItem) types.Money {
	total := types.Zero(currency)
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}
