package bursar

import "github.com/xraph/bursar/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	KES        = types.KES
	UGX        = types.UGX
	TZS        = types.TZS
	USD        = types.USD
	Zero       = types.Zero
	Major      = types.Major
	Sum        = types.Sum
	ParseMoney = types.ParseMoney
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
