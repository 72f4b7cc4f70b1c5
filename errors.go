package bursar

import (
	"errors"
	"fmt"

	"github.com/xraph/bursar/directory"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("bursar: not found")
	ErrAlreadyExists = errors.New("bursar: already exists")
	ErrInvalidInput  = errors.New("bursar: invalid input")
	ErrInvalidState  = errors.New("bursar: operation not allowed in current state")
	ErrMissingScope  = errors.New("bursar: missing school scope")

	// Fee structure errors
	ErrStructureNotFound     = errors.New("bursar: fee structure not found")
	ErrStructureExists       = errors.New("bursar: fee structure already exists")
	ErrStructurePublished    = errors.New("bursar: fee structure is published")
	ErrStructureNotPublished = errors.New("bursar: fee structure is not published")
	ErrStructureEmpty        = errors.New("bursar: fee structure has no fee items")
	ErrStructureInvoiced     = errors.New("bursar: fee structure term has invoices")
	ErrNoDefaultStructure    = errors.New("bursar: no published default fee structure")
	ErrStructureTermMismatch = errors.New("bursar: fee structure belongs to another term")

	// Fee item errors
	ErrItemNotFound = errors.New("bursar: fee item not found")
	ErrItemExists   = errors.New("bursar: fee item already exists")

	// Invoice errors
	ErrInvoiceNotFound  = errors.New("bursar: invoice not found")
	ErrInvoiceExists    = errors.New("bursar: invoice already exists for term")
	ErrInvoicePaid      = errors.New("bursar: invoice is paid, refund first")
	ErrInvoiceCancelled = errors.New("bursar: invoice is cancelled")
	ErrInvoiceNotDraft  = errors.New("bursar: invoice is not a draft")
	ErrInvoiceNotIssued = errors.New("bursar: invoice has not been issued")
	ErrNoStudents       = errors.New("bursar: no active students found")
	ErrNoDraftInvoices  = errors.New("bursar: no draft invoices match")

	// Payment errors
	ErrPaymentNotFound = errors.New("bursar: payment not found")

	// Store errors
	ErrStoreClosed       = errors.New("bursar: store is closed")
	ErrTransactionFailed = errors.New("bursar: transaction failed")
	ErrMigrationFailed   = errors.New("bursar: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("bursar: validation failed for %s: %s", e.Field, e.Message)
}

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "bursar: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("bursar: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Err returns nil when nothing was collected, otherwise e.
func (e MultiError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStructureNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrNoDefaultStructure) ||
		errors.Is(err, ErrNoStudents) ||
		errors.Is(err, ErrNoDraftInvoices) ||
		errors.Is(err, directory.ErrNotFound)
}

// IsConflict returns true if the error reports a duplicate entity.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrStructureExists) ||
		errors.Is(err, ErrItemExists) ||
		errors.Is(err, ErrInvoiceExists)
}

// IsInvalidState returns true if the operation is not allowed in the
// entity's current lifecycle state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrStructurePublished) ||
		errors.Is(err, ErrStructureNotPublished) ||
		errors.Is(err, ErrStructureEmpty) ||
		errors.Is(err, ErrStructureInvoiced) ||
		errors.Is(err, ErrStructureTermMismatch) ||
		errors.Is(err, ErrInvoicePaid) ||
		errors.Is(err, ErrInvoiceCancelled) ||
		errors.Is(err, ErrInvoiceNotDraft) ||
		errors.Is(err, ErrInvoiceNotIssued)
}

// IsValidation returns true if the error is a ValidationError or
// ErrInvalidInput.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidInput)
}
