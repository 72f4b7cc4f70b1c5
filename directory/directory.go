// Package directory defines the read-only lookups Bursar needs from the
// school's student, class and term administration.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a student, class or term is unknown.
var ErrNotFound = errors.New("directory: not found")

// Student is an enrolled learner.
type Student struct {
	ID       string `json:"id"`
	SchoolID string `json:"school_id"`
	Name     string `json:"name"`
	ClassID  string `json:"class_id"`
	Active   bool   `json:"active"`
}

// Class is a teaching group, e.g. "Grade 4 East".
type Class struct {
	ID       string `json:"id"`
	SchoolID string `json:"school_id"`
	Name     string `json:"name"`
	Level    string `json:"level,omitempty"`
}

// Term is an academic term.
type Term struct {
	Year  int       `json:"year"`
	Term  int       `json:"term"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Students looks up students.
type Students interface {
	// ListActive returns active students, optionally only those in classID.
	ListActive(ctx context.Context, schoolID, classID string) ([]Student, error)
	Get(ctx context.Context, schoolID, studentID string) (*Student, error)
	// FindByName returns students whose name contains name, case-insensitively.
	FindByName(ctx context.Context, schoolID, name string) ([]Student, error)
}

// Classes looks up classes.
type Classes interface {
	Get(ctx context.Context, schoolID, classID string) (*Class, error)
	FindByName(ctx context.Context, schoolID, name string) (*Class, error)
}

// Terms reports the academic calendar.
type Terms interface {
	Current(ctx context.Context, schoolID string) (Term, error)
}
