// Package parser turns spreadsheet and Word documents into plain text for the
// text-route extraction agent, enforcing size limits on the way.
package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
)

// Kind identifies a supported structured document format.
type Kind string

const (
	KindXLSX Kind = "xlsx"
	KindDOCX Kind = "docx"
)

// Result is the extracted text of one document.
type Result struct {
	Text      string `json:"text"`
	CharCount int    `json:"char_count"`
	Truncated bool   `json:"truncated"`
}

// Limits bounds the work a single parse may do.
type Limits struct {
	MaxRows  int `json:"max_rows"`
	MaxCells int `json:"max_cells"`
	MaxChars int `json:"max_chars"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxRows: 5000, MaxCells: 100000, MaxChars: 200000}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxRows <= 0 {
		l.MaxRows = d.MaxRows
	}
	if l.MaxCells <= 0 {
		l.MaxCells = d.MaxCells
	}
	if l.MaxChars <= 0 {
		l.MaxChars = d.MaxChars
	}
	return l
}

// Limit error codes.
const (
	CodeMaxRows  = "max_rows_exceeded"
	CodeMaxCells = "max_cells_exceeded"
)

// LimitError reports a document that exceeds a configured limit. It is never
// retryable.
type LimitError struct {
	Code  string
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s (limit %d)", e.Code, e.Limit)
}

// Error is a parse failure carrying a stable code such as
// "xlsx_parse_failed" or "docx_parser_unavailable".
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ParseFailed returns the parse-failure code for kind.
func ParseFailed(kind Kind) string { return string(kind) + "_parse_failed" }

// Unavailable returns the parser-unavailable code for kind.
func Unavailable(kind Kind) string { return string(kind) + "_parser_unavailable" }

// IsUnavailable reports whether err means the parser could not be run at all.
func IsUnavailable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == Unavailable(KindXLSX) || pe.Code == Unavailable(KindDOCX)
}

// Extractor extracts text from a structured document.
type Extractor interface {
	Extract(ctx context.Context, kind Kind, data []byte) (Result, error)
}

// InProcess parses documents in the calling process.
type InProcess struct {
	Limits Limits
}

// Extract dispatches on kind.
func (p InProcess) Extract(ctx context.Context, kind Kind, data []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Extract(kind, data, p.Limits)
}

// Extract parses data as kind with the given limits.
func Extract(kind Kind, data []byte, limits Limits) (Result, error) {
	limits = limits.withDefaults()
	switch kind {
	case KindXLSX:
		return ExtractXLSX(data, limits)
	case KindDOCX:
		return ExtractDOCX(data, limits)
	default:
		return Result{}, &Error{Code: "unsupported_file_type", Err: fmt.Errorf("parser: unknown kind %q", kind)}
	}
}

func finish(text string, limits Limits) Result {
	truncated := false
	if len([]rune(text)) > limits.MaxChars {
		text = normalize.Truncate(text, limits.MaxChars)
		truncated = true
	}
	return Result{Text: text, CharCount: len([]rune(text)), Truncated: truncated}
}
