package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the pipeline's failure taxonomy. Typed errors below
// unwrap to these so callers can branch with errors.Is.
var (
	ErrDataNotFound = errors.New("data not found")
	ErrRead         = errors.New("read error")
	ErrLoad         = errors.New("load error")
	ErrConfig       = errors.New("config error")
	ErrEmptyDataset = errors.New("empty dataset")
)

// DataNotFoundError reports that no input partition matched a chain and
// window. The orchestrator skips the chain and continues.
type DataNotFoundError struct {
	Chain string
	Begin time.Time
	End   time.Time
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("no parquet files for chain %s in [%s, %s)",
		e.Chain, e.Begin.Format(time.DateTime), e.End.Format(time.DateTime))
}

func (e *DataNotFoundError) Unwrap() error { return ErrDataNotFound }

// ReadError reports malformed or unreadable input content.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() []error { return []error{ErrRead, e.Err} }

// LoadError reports a store write failure for one scope.
type LoadError struct {
	Scope Scope
	Op    string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s (%s): %v", e.Scope, e.Op, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// ConfigError reports an invalid configuration value. It is fatal.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// EmptyDatasetWarning is produced by the report generator when a table has
// no rows. It is never returned as an error; a placeholder is rendered.
type EmptyDatasetWarning struct {
	Table string
}

func (e *EmptyDatasetWarning) Error() string {
	return fmt.Sprintf("table %s is empty", e.Table)
}

func (e *EmptyDatasetWarning) Unwrap() error { return ErrEmptyDataset }
