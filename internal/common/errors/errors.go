// Package errors provides the standardized error taxonomy shared by the stores,
// the services and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode is the machine-readable code returned to API clients.
type ErrorCode string

const (
	// Intake validation
	ErrCodeUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeMissingName          ErrorCode = "MISSING_NAME"
	ErrCodeMissingEmail         ErrorCode = "MISSING_EMAIL"
	ErrCodeMissingWhatsapp      ErrorCode = "MISSING_WHATSAPP"
	ErrCodeMissingImage         ErrorCode = "MISSING_IMAGE"
	ErrCodeInvalidImageType     ErrorCode = "INVALID_IMAGE_TYPE"
	ErrCodeImageTooLarge        ErrorCode = "IMAGE_TOO_LARGE"
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"

	// Review / request validation
	ErrCodeInvalidStatus     ErrorCode = "INVALID_STATUS"
	ErrCodeMissingStatus     ErrorCode = "MISSING_STATUS"
	ErrCodeInvalidID         ErrorCode = "INVALID_ID"
	ErrCodeInvalidJSON       ErrorCode = "INVALID_JSON"
	ErrCodeInvalidPagination ErrorCode = "INVALID_PAGINATION"

	// Lookups
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeSlotNotFound ErrorCode = "SLOT_NOT_FOUND"

	// Roster / capacity
	ErrCodeNoOpenSlots        ErrorCode = "NO_OPEN_SLOTS"
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"
	ErrCodeSlotAlreadyFilled  ErrorCode = "SLOT_ALREADY_FILLED"

	// Server side
	ErrCodeSlotUpdateFailed ErrorCode = "SLOT_UPDATE_FAILED"
	ErrCodeStorage          ErrorCode = "STORAGE_ERROR"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeInternal         ErrorCode = "SERVER_ERROR"
)

// Kind groups codes into the taxonomy callers branch on.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindCapacity    Kind = "capacity"
	KindConflict    Kind = "conflict"
	KindConsistency Kind = "consistency"
	KindStorage     Kind = "storage"
	KindRateLimit   Kind = "rate_limit"
	KindInternal    Kind = "internal"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any StandardError carrying the same code, so the sentinels below
// work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the response status for the error code.
func (e *StandardError) HTTPStatus() int {
	return HTTPStatusFor(e.Code)
}

// WithMetadata returns the error with an extra metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrUnsupportedMediaType = &StandardError{Code: ErrCodeUnsupportedMediaType}
	ErrMissingName          = &StandardError{Code: ErrCodeMissingName}
	ErrMissingEmail         = &StandardError{Code: ErrCodeMissingEmail}
	ErrMissingWhatsapp      = &StandardError{Code: ErrCodeMissingWhatsapp}
	ErrMissingImage         = &StandardError{Code: ErrCodeMissingImage}
	ErrInvalidImageType     = &StandardError{Code: ErrCodeInvalidImageType}
	ErrImageTooLarge        = &StandardError{Code: ErrCodeImageTooLarge}
	ErrValidation           = &StandardError{Code: ErrCodeValidation}
	ErrInvalidStatus        = &StandardError{Code: ErrCodeInvalidStatus}
	ErrNotFound             = &StandardError{Code: ErrCodeNotFound}
	ErrSlotNotFound         = &StandardError{Code: ErrCodeSlotNotFound}
	ErrNoOpenSlots          = &StandardError{Code: ErrCodeNoOpenSlots}
	ErrAlreadyInitialized   = &StandardError{Code: ErrCodeAlreadyInitialized}
	ErrSlotAlreadyFilled    = &StandardError{Code: ErrCodeSlotAlreadyFilled}
	ErrSlotUpdateFailed     = &StandardError{Code: ErrCodeSlotUpdateFailed}
	ErrStorage              = &StandardError{Code: ErrCodeStorage}
)

// ==========================
// 2. Error Constructors
// ==========================

func newError(code ErrorCode, kind Kind, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewUnsupportedMediaTypeError(contentType string) *StandardError {
	return newError(ErrCodeUnsupportedMediaType, KindValidation,
		"Content-Type must be multipart/form-data", fmt.Sprintf("contentType: %q", contentType), false)
}

func NewMissingNameError() *StandardError {
	return newError(ErrCodeMissingName, KindValidation, "Name is required", "", false)
}

func NewMissingEmailError() *StandardError {
	return newError(ErrCodeMissingEmail, KindValidation, "Email is required", "", false)
}

func NewMissingWhatsappError() *StandardError {
	return newError(ErrCodeMissingWhatsapp, KindValidation, "WhatsApp number is required", "", false)
}

func NewMissingImageError() *StandardError {
	return newError(ErrCodeMissingImage, KindValidation, "Profile image is required", "", false)
}

func NewInvalidImageTypeError(mediaType string) *StandardError {
	return newError(ErrCodeInvalidImageType, KindValidation,
		"Profile image must be JPG, JPEG, or PNG", fmt.Sprintf("mediaType: %q", mediaType), false)
}

func NewImageTooLargeError(size, limit int64) *StandardError {
	return newError(ErrCodeImageTooLarge, KindValidation,
		fmt.Sprintf("Profile image must be smaller than %d MB", limit/(1024*1024)),
		fmt.Sprintf("size: %d, limit: %d", size, limit), false)
}

// NewValidationError reports a store-level required field violation.
func NewValidationError(field string) *StandardError {
	return newError(ErrCodeValidation, KindValidation,
		"Required field missing", fmt.Sprintf("field: %s", field), false)
}

func NewInvalidStatusError(status string) *StandardError {
	return newError(ErrCodeInvalidStatus, KindValidation,
		"Status must be one of: pending, approved, rejected", fmt.Sprintf("status: %q", status), false)
}

func NewMissingStatusError() *StandardError {
	return newError(ErrCodeMissingStatus, KindValidation, "Status field is required", "", false)
}

func NewInvalidIDError(id string) *StandardError {
	return newError(ErrCodeInvalidID, KindValidation, "Valid ID is required", fmt.Sprintf("id: %q", id), false)
}

func NewInvalidJSONError(err error) *StandardError {
	e := newError(ErrCodeInvalidJSON, KindValidation, "Request body must be valid JSON", err.Error(), false)
	e.cause = err
	return e
}

func NewInvalidPaginationError(details string) *StandardError {
	return newError(ErrCodeInvalidPagination, KindValidation, "Invalid pagination parameters", details, false)
}

func NewNotFoundError(applicationID string) *StandardError {
	return newError(ErrCodeNotFound, KindNotFound, "Application not found",
		fmt.Sprintf("applicationId: %s", applicationID), false)
}

func NewSlotNotFoundError(slotID string) *StandardError {
	return newError(ErrCodeSlotNotFound, KindNotFound, "Slot not found",
		fmt.Sprintf("slotId: %s", slotID), false)
}

func NewNoOpenSlotsError() *StandardError {
	return newError(ErrCodeNoOpenSlots, KindCapacity, "All leader slots are filled", "", false)
}

func NewAlreadyInitializedError() *StandardError {
	return newError(ErrCodeAlreadyInitialized, KindConflict,
		"Slots already exist. Cannot initialize again.", "", false)
}

// NewSlotAlreadyFilledError signals a lost race between two claimers.
func NewSlotAlreadyFilledError(slotID string) *StandardError {
	return newError(ErrCodeSlotAlreadyFilled, KindConflict, "Slot already filled",
		fmt.Sprintf("slotId: %s", slotID), true)
}

func NewSlotUpdateFailedError(slotID string, err error) *StandardError {
	details := fmt.Sprintf("slotId: %s", slotID)
	if err != nil {
		details = fmt.Sprintf("%s, error: %s", details, err.Error())
	}
	e := newError(ErrCodeSlotUpdateFailed, KindConsistency, "Failed to update leader slot", details, false)
	e.cause = err
	return e
}

// NewStorageError wraps a generic persistence failure. The core does not retry it.
func NewStorageError(operation string, err error) *StandardError {
	e := newError(ErrCodeStorage, KindStorage, "Storage operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), false)
	e.cause = err
	return e
}

func NewRateLimitedError() *StandardError {
	return newError(ErrCodeRateLimited, KindRateLimit, "Too many requests", "", true)
}

func NewInternalError(err error) *StandardError {
	e := newError(ErrCodeInternal, KindInternal, "Internal server error", err.Error(), false)
	e.cause = err
	return e
}

// ==========================
// 3. Utility Functions
// ==========================

var httpStatusByCode = map[ErrorCode]int{
	ErrCodeUnsupportedMediaType: http.StatusUnsupportedMediaType,
	ErrCodeMissingName:          http.StatusBadRequest,
	ErrCodeMissingEmail:         http.StatusBadRequest,
	ErrCodeMissingWhatsapp:      http.StatusBadRequest,
	ErrCodeMissingImage:         http.StatusBadRequest,
	ErrCodeInvalidImageType:     http.StatusBadRequest,
	ErrCodeImageTooLarge:        http.StatusBadRequest,
	ErrCodeValidation:           http.StatusBadRequest,
	ErrCodeInvalidStatus:        http.StatusBadRequest,
	ErrCodeMissingStatus:        http.StatusBadRequest,
	ErrCodeInvalidID:            http.StatusBadRequest,
	ErrCodeInvalidJSON:          http.StatusBadRequest,
	ErrCodeInvalidPagination:    http.StatusBadRequest,
	ErrCodeNotFound:             http.StatusNotFound,
	ErrCodeSlotNotFound:         http.StatusNotFound,
	ErrCodeNoOpenSlots:          http.StatusBadRequest,
	ErrCodeAlreadyInitialized:   http.StatusBadRequest,
	ErrCodeSlotAlreadyFilled:    http.StatusConflict,
	ErrCodeSlotUpdateFailed:     http.StatusInternalServerError,
	ErrCodeStorage:              http.StatusInternalServerError,
	ErrCodeRateLimited:          http.StatusTooManyRequests,
	ErrCodeInternal:             http.StatusInternalServerError,
}

// HTTPStatusFor returns the response status for a code, 500 for unknown codes.
func HTTPStatusFor(code ErrorCode) int {
	if status, ok := httpStatusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AsStandard extracts a StandardError from an error chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// Normalize always returns a StandardError, wrapping unknown errors as internal.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// FromResponse rebuilds an error from a remote error envelope.
func FromResponse(status int, resp Response) *StandardError {
	return newError(resp.Code, KindInternal, resp.Error, fmt.Sprintf("status: %d", status),
		status == http.StatusTooManyRequests)
}
