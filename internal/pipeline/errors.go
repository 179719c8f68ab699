// Package pipeline drives one scrape session from fetch to persisted plans.
package pipeline

import (
	"errors"
	"fmt"
)

// Failure kinds. Every job failure wraps exactly one of these.
var (
	ErrCompetitorNotFound = errors.New("competitor not found")
	ErrFetch              = errors.New("fetch failed")
	ErrExtraction         = errors.New("text extraction failed")
	ErrInterpretation     = errors.New("interpretation failed")
	ErrPersistence        = errors.New("persistence failed")
)

// Detail errors wrapped beneath a failure kind.
var (
	// ErrNoPlans indicates the model returned an empty plan list.
	ErrNoPlans = errors.New("AI model did not return any plans")

	// ErrArchiveRead indicates the current generation could not be read.
	ErrArchiveRead = errors.New("reading current plans")

	// ErrArchiveWrite indicates the current generation could not be flagged non-current.
	ErrArchiveWrite = errors.New("archiving current plans")

	// ErrInsert indicates a plan or its features could not be written.
	ErrInsert = errors.New("inserting plans")
)

// StageError pairs a failure kind with its cause.
type StageError struct {
	Kind error
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func fail(kind, err error) error {
	return &StageError{Kind: kind, Err: err}
}
