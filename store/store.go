// Package store defines the aggregate persistence interface for Bursar.
// Backends live in the memory, postgres, sqlite and mongo subpackages.
package store

import (
	"context"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
)

// Store is the unified storage interface for all Bursar entities.
type Store interface {
	feestructure.Store
	invoice.Store
	payment.Store

	// Transact runs fn inside one atomic unit of work. fn receives a Store
	// bound to the transaction; every write it makes commits together or
	// not at all. Returning an error from fn rolls back.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// LockTerm takes a write lock on the fee structures of
	// (schoolID, year, term) for the rest of the current transaction.
	// Outside Transact it is a no-op.
	LockTerm(ctx context.Context, schoolID string, year, term int) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
