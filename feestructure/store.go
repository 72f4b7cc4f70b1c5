package feestructure

import (
	"context"
	"strings"

	"github.com/xraph/bursar/id"
)

// Store persists fee structures and their items.
type Store interface {
	CreateStructure(ctx context.Context, fs *FeeStructure) error
	GetStructure(ctx context.Context, structureID id.FeeStructureID) (*FeeStructure, error)
	ListStructures(ctx context.Context, schoolID string, opts ListOpts) ([]*FeeStructure, error)
	UpdateStructure(ctx context.Context, fs *FeeStructure) error
	DeleteStructure(ctx context.Context, structureID id.FeeStructureID) error

	CreateItem(ctx context.Context, item *FeeItem) error
	GetItem(ctx context.Context, itemID id.FeeItemID) (*FeeItem, error)
	ListItems(ctx context.Context, structureID id.FeeStructureID) ([]*FeeItem, error)
	UpdateItem(ctx context.Context, item *FeeItem) error
	DeleteItem(ctx context.Context, itemID id.FeeItemID) error
	DeleteItems(ctx context.Context, structureID id.FeeStructureID) (int, error)
	CountItems(ctx context.Context, structureID id.FeeStructureID) (int, error)
}

// ListOpts filters structure listings. Zero values match everything.
type ListOpts struct {
	Year      int
	Term      int
	Level     string
	Published *bool
	Default   *bool
	Search    string // case-insensitive substring of the name
	Limit     int
	Offset    int
}

// Match reports whether fs passes every set filter except pagination.
func (o ListOpts) Match(fs *FeeStructure) bool {
	if o.Year != 0 && fs.Year != o.Year {
		return false
	}
	if o.Term != 0 && fs.Term != o.Term {
		return false
	}
	if o.Level != "" && fs.Level != NormalizeLevel(o.Level) {
		return false
	}
	if o.Published != nil && fs.IsPublished != *o.Published {
		return false
	}
	if o.Default != nil && fs.IsDefault != *o.Default {
		return false
	}
	if o.Search != "" && !containsFold(fs.Name, o.Search) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}
