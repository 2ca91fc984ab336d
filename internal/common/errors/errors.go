// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Generation pipeline errors
const (
	ErrCodeCreditExhausted     ErrorCode = "CREDIT_EXHAUSTED"
	ErrCodeCreditCheckFailed   ErrorCode = "CREDIT_CHECK_FAILED"
	ErrCodeGenerationFailed    ErrorCode = "GENERATION_CALL_FAILED"
	ErrCodeGenerationTimeout   ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeCatalogUnavailable  ErrorCode = "CATALOG_UNAVAILABLE"
	ErrCodeUnknownSection      ErrorCode = "UNKNOWN_SECTION"
	ErrCodePersistenceFailed   ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeProposalNotFound    ErrorCode = "PROPOSAL_NOT_FOUND"
	ErrCodeStatusRegression    ErrorCode = "STATUS_REGRESSION"
	ErrCodeExportFailed        ErrorCode = "EXPORT_FAILED"
	ErrCodeNotificationFailed  ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeInputParsingFailed  ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeDatabaseUnavailable ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeBrokerUnavailable   ErrorCode = "BROKER_UNAVAILABLE"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata attaches a key to the error's metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewCreditExhaustedError blocks a run; the user has to upgrade.
func NewCreditExhaustedError(userID string, remaining int) *StandardError {
	return newError(ErrCodeCreditExhausted, "No generation credits remaining",
		fmt.Sprintf("userId: %s, proposalsRemaining: %d", userID, remaining), false)
}

func NewCreditCheckFailedError(err error) *StandardError {
	return newError(ErrCodeCreditCheckFailed, "Credit service unavailable", err.Error(), true)
}

func NewGenerationFailedError(err error) *StandardError {
	return newError(ErrCodeGenerationFailed, "Generation service call failed", err.Error(), true)
}

func NewGenerationTimeoutError(err error) *StandardError {
	return newError(ErrCodeGenerationTimeout, "Generation run timed out", err.Error(), true)
}

// NewValidationFailedError reports pre-flight problems with the project data.
func NewValidationFailedError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Project data validation failed", details, false)
}

func NewCatalogUnavailableError(err error) *StandardError {
	return newError(ErrCodeCatalogUnavailable, "Question catalog unavailable", err.Error(), true)
}

func NewUnknownSectionError(sectionKey string) *StandardError {
	return newError(ErrCodeUnknownSection, "Unknown section", fmt.Sprintf("sectionKey: %s", sectionKey), false)
}

func NewPersistenceFailedError(err error) *StandardError {
	return newError(ErrCodePersistenceFailed, "Proposal persistence failed", err.Error(), true)
}

func NewProposalNotFoundError(proposalID string) *StandardError {
	return newError(ErrCodeProposalNotFound, "Proposal not found", fmt.Sprintf("proposalId: %s", proposalID), false)
}

func NewStatusRegressionError(details string) *StandardError {
	return newError(ErrCodeStatusRegression, "Proposal status cannot move backwards", details, false)
}

func NewExportFailedError(err error) *StandardError {
	return newError(ErrCodeExportFailed, "Export service call failed", err.Error(), true)
}

func NewNotificationFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
}

func NewInputParsingError(err error) *StandardError {
	return newError(ErrCodeInputParsingFailed, "Failed to parse job variables", err.Error(), false)
}

func NewDatabaseUnavailableError(err error) *StandardError {
	return newError(ErrCodeDatabaseUnavailable, "Database connection error", err.Error(), true)
}

func NewBrokerUnavailableError(operation string, err error) *StandardError {
	return newError(ErrCodeBrokerUnavailable, "Workflow broker unavailable",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes. Codes not
// listed pass through unchanged.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeCreditExhausted:    "CREDIT_EXHAUSTED",
	ErrCodeValidationFailed:   "PROJECT_INVALID",
	ErrCodeProposalNotFound:   "PROPOSAL_NOT_FOUND",
	ErrCodeStatusRegression:   "STATUS_REGRESSION",
	ErrCodeUnknownSection:     "UNKNOWN_SECTION",
	ErrCodeInputParsingFailed: "INPUT_INVALID",
}

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCreditCheckFailed,
		ErrCodeGenerationFailed,
		ErrCodeCatalogUnavailable,
		ErrCodePersistenceFailed,
		ErrCodeExportFailed,
		ErrCodeNotificationFailed,
		ErrCodeDatabaseUnavailable,
		ErrCodeBrokerUnavailable:
		return 3
	case ErrCodeGenerationTimeout:
		return 2
	default:
		return 0 // business errors are thrown, not retried
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CREDIT"):
		return "BILLING"
	case strings.Contains(codeStr, "GENERATION"):
		return "AI"
	case strings.Contains(codeStr, "CATALOG") || strings.Contains(codeStr, "SECTION"):
		return "CONTENT"
	case strings.Contains(codeStr, "PERSISTENCE") || strings.Contains(codeStr, "DATABASE") ||
		strings.Contains(codeStr, "PROPOSAL") || strings.Contains(codeStr, "STATUS"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "EXPORT"):
		return "DELIVERY"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "PARSING"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
