package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is wrapped by a SchemaError when a required column is absent
	ErrMissingColumn = errors.New("missing column")
	// ErrBadNumber is wrapped by a SchemaError when a numeric cell cannot be parsed
	ErrBadNumber = errors.New("unparseable numeric cell")
	// ErrDuplicateTime is wrapped by a SchemaError when a series repeats a timestamp
	ErrDuplicateTime = errors.New("duplicate timestamp")
	// ErrBadTime is wrapped by a SchemaError when a time key cannot be parsed
	ErrBadTime = errors.New("unparseable time key")
)

// SchemaError reports a source file that violates its column contract.
// It is fatal for that source only.
type SchemaError struct {
	Source string
	File   string
	Column string
	Row    int // 1-based data row, 0 when the header is at fault
	Err    error
}

func (e *SchemaError) Error() string {
	loc := e.File
	if e.Column != "" {
		loc += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Row > 0 {
		loc += fmt.Sprintf(" row %d", e.Row)
	}
	return fmt.Sprintf("schema error in %s source (%s): %v", e.Source, loc, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NewMissingColumn builds a SchemaError for an absent column
func NewMissingColumn(source, file, column string) *SchemaError {
	return &SchemaError{Source: source, File: file, Column: column, Err: ErrMissingColumn}
}

// NewBadNumber builds a SchemaError for an unparseable cell
func NewBadNumber(source, file, column string, row int, raw string) *SchemaError {
	return &SchemaError{
		Source: source, File: file, Column: column, Row: row,
		Err: fmt.Errorf("%w: %q", ErrBadNumber, raw),
	}
}

// NewBadTime builds a SchemaError for an unparseable time key
func NewBadTime(source, file, column string, row int, raw string) *SchemaError {
	return &SchemaError{
		Source: source, File: file, Column: column, Row: row,
		Err: fmt.Errorf("%w: %q", ErrBadTime, raw),
	}
}

// NewDuplicateTime builds a SchemaError for a repeated timestamp in one series
func NewDuplicateTime(source, entity, key string) *SchemaError {
	return &SchemaError{
		Source: source, File: entity,
		Err: fmt.Errorf("%w %s", ErrDuplicateTime, key),
	}
}

// UnmappedConventionError reports an entity with no known quoting convention.
// The series is skipped; other series continue.
type UnmappedConventionError struct {
	Source string
	Entity string
}

func (e *UnmappedConventionError) Error() string {
	return fmt.Sprintf("no quoting convention configured for %s entity %q", e.Source, e.Entity)
}

// InsufficientOverlapWarning reports a statistic that could not be computed
// because too few observations were shared.
type InsufficientOverlapWarning struct {
	Context  string
	Left     string
	Right    string
	Overlap  int
	Required int
}

func (w *InsufficientOverlapWarning) Error() string {
	if w.Right == "" {
		return fmt.Sprintf("%s: %s has %d observations, %d required", w.Context, w.Left, w.Overlap, w.Required)
	}
	return fmt.Sprintf("%s: %s/%s share %d observations, %d required", w.Context, w.Left, w.Right, w.Overlap, w.Required)
}

// MergeGapWarning reports a period inside an entity's span that no source covers.
type MergeGapWarning struct {
	Entity string
	Period string
}

func (w *MergeGapWarning) Error() string {
	return fmt.Sprintf("no source covers %s at %s", w.Entity, w.Period)
}

// ConfigError reports a configuration problem detected outside config loading,
// such as a merge source missing from its priority list.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Message)
}
