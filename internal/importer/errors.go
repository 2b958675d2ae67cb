package importer

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/parser"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/resilience"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrNotFound   = eris.New("not found")
	ErrConflict   = eris.New("conflict")
	ErrValidation = eris.New("validation failed")
)

// Error codes owned by the importer.
const (
	CodeMaxItems               = "max_items_exceeded"
	CodeCompanyNotFound        = "entrypoint_company_not_found"
	CodeLocationNotFound       = "entrypoint_location_not_found"
	CodeLeaseExpired           = "lease_expired_requeued"
	CodeMaxAttempts            = "max_attempts_reached"
	CodeRunNotEditable         = "run_not_editable"
	CodeItemInvalid            = "item_invalid"
	CodeDuplicateUnconfirmed   = "duplicate_confirmation_required"
	CodeItemsPending           = "items_pending_review"
	CodeItemNeedsReview        = "item_needs_review"
	CodeFinalizeInProgress     = "finalize_in_progress"
	CodeRunNotReady            = "run_not_ready"
	CodeLocationItemForbidden  = "location_item_forbidden"
	CodeParentNotApproved      = "parent_not_approved"
	CodeNewLiveDuplicate       = "new_live_duplicate"
	CodeLocationUnresolved     = "project_location_unresolved"
	CodeNormalizedDataRequired = "normalized_data_required"
	CodeInvalidAction          = "invalid_action"
	CodeInvalidPayload         = "invalid_payload"
)

// Error is a service-level failure with a kind and a stable code.
type Error struct {
	Kind error
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func notFound(what string) error {
	return &Error{Kind: ErrNotFound, Code: "not_found", Msg: what + " not found"}
}

func conflict(code, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func invalid(code, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ErrorCode returns the stable code persisted as a run's processing_error.
// Errors without a code fall back to their message.
func ErrorCode(err error) string {
	var (
		ee *extract.Error
		pe *parser.Error
		le *parser.LimitError
		ie *Error
	)
	switch {
	case errors.As(err, &ie):
		return ie.Code
	case errors.As(err, &ee):
		return ee.Code
	case errors.As(err, &le):
		return le.Code
	case errors.As(err, &pe):
		return pe.Code
	default:
		return err.Error()
	}
}

// IsPermanent reports whether a processing failure cannot be fixed by
// another attempt.
func IsPermanent(err error) bool {
	var (
		ee *extract.Error
		pe *parser.Error
		le *parser.LimitError
		ie *Error
	)
	switch {
	case resilience.IsPermanent(err):
		return true
	case errors.As(err, &le):
		return true
	case errors.As(err, &ee):
		return !ee.Retryable()
	case errors.As(err, &pe):
		return !parser.IsUnavailable(err)
	case errors.As(err, &ie):
		return errors.Is(ie.Kind, ErrValidation)
	case errors.Is(err, model.ErrInvalidPayload), errors.Is(err, storage.ErrNotFound):
		return true
	default:
		return false
	}
}
