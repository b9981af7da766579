// Package errors provides structured error types for catalogctl.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeCycle                ErrorCode = "CYCLE_ERROR"
	ErrCodeUnresolvedDependency ErrorCode = "UNRESOLVED_DEPENDENCY"
	ErrCodeNotPublished         ErrorCode = "NOT_PUBLISHED"
	ErrCodePublish              ErrorCode = "PUBLISH_ERROR"
	ErrCodeDeploy               ErrorCode = "DEPLOY_ERROR"
	ErrCodeTerminate            ErrorCode = "TERMINATE_ERROR"
	ErrCodeIncompleteOutputs    ErrorCode = "INCOMPLETE_OUTPUTS"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodeLocked               ErrorCode = "STATE_LOCKED"
	ErrCodeBackend              ErrorCode = "BACKEND_ERROR"
	ErrCodeTimeout              ErrorCode = "TIMEOUT"
	ErrCodeCancelled            ErrorCode = "CANCELLED"
	ErrCodeParse                ErrorCode = "PARSE_ERROR"
)

// Error is the base error type for catalogctl
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// ValidationError creates a validation error. Individual problems are
// listed under the "errors" detail.
func ValidationError(message string, problems []string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: map[string]interface{}{
			"errors": problems,
		},
	}
}

// CycleError reports a dependency cycle. The path starts and ends with the
// same product, e.g. [a b c a].
func CycleError(path []string) *Error {
	cycle := append([]string(nil), path...)
	return &Error{
		Code:    ErrCodeCycle,
		Message: fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")),
		Details: map[string]interface{}{
			"cycle": cycle,
		},
	}
}

// UnresolvedDependencyError reports a parameter mapping whose source output
// has not been captured for the dependency.
func UnresolvedDependencyError(product, dependency, output string) *Error {
	return &Error{
		Code:    ErrCodeUnresolvedDependency,
		Message: fmt.Sprintf("%s: output %q of dependency %q has not been captured", product, output, dependency),
		Details: map[string]interface{}{
			"product":    product,
			"dependency": dependency,
			"output":     output,
		},
	}
}

// NotPublishedError reports a deploy of a product that has no published version.
func NotPublishedError(product string) *Error {
	return &Error{
		Code:    ErrCodeNotPublished,
		Message: fmt.Sprintf("product %q has not been published", product),
		Details: map[string]interface{}{
			"product": product,
		},
	}
}

// IncompleteOutputsError reports a deploy whose backend outputs do not cover
// every output the product declares.
func IncompleteOutputsError(product string, missing []string) *Error {
	return &Error{
		Code:    ErrCodeIncompleteOutputs,
		Message: fmt.Sprintf("product %q is missing declared outputs: %s", product, strings.Join(missing, ", ")),
		Details: map[string]interface{}{
			"product": product,
			"missing": missing,
		},
	}
}

// PublishError wraps a backend failure during publish.
func PublishError(product string, err error) *Error {
	return stageError(ErrCodePublish, "publish", product, err)
}

// DeployError wraps a backend failure during deploy.
func DeployError(product string, err error) *Error {
	return stageError(ErrCodeDeploy, "deploy", product, err)
}

// TerminateError wraps a backend failure during terminate.
func TerminateError(product string, err error) *Error {
	return stageError(ErrCodeTerminate, "terminate", product, err)
}

func stageError(code ErrorCode, stage, product string, err error) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("%s of %q failed", stage, product),
		Cause:   err,
		Details: map[string]interface{}{
			"product": product,
			"stage":   stage,
		},
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// ConflictError reports a compare-and-set mismatch.
func ConflictError(key string, expected, actual uint64) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("%s changed concurrently (expected revision %d, found %d)", key, expected, actual),
		Details: map[string]interface{}{
			"key":      key,
			"expected": expected,
			"actual":   actual,
		},
	}
}

// LockInfo contains metadata about a lock
type LockInfo struct {
	ID        string
	Path      string
	Who       string
	Operation string
	Created   time.Time
}

// StateLocked creates a state locked error
func StateLocked(lockInfo LockInfo) *Error {
	return &Error{
		Code:    ErrCodeLocked,
		Message: "state is locked",
		Details: map[string]interface{}{
			"lock_id":   lockInfo.ID,
			"locked_by": lockInfo.Who,
			"operation": lockInfo.Operation,
			"created":   lockInfo.Created,
		},
	}
}

// ParseError creates a parse error
func ParseError(filePath string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("failed to parse %s", filePath),
		Cause:   err,
		Details: map[string]interface{}{
			"file": filePath,
		},
	}
}

// BackendError creates a backend error
func BackendError(backend string, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is checks if any *Error in err's chain carries the given code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// CycleOf returns the cycle path carried by a CycleError in err's chain.
func CycleOf(err error) ([]string, bool) {
	e, ok := find(err, ErrCodeCycle)
	if !ok {
		return nil, false
	}
	cycle, ok := e.Details["cycle"].([]string)
	return cycle, ok
}

// UnresolvedOf returns the dependency and output named by an
// UnresolvedDependencyError in err's chain.
func UnresolvedOf(err error) (dependency, output string, ok bool) {
	e, found := find(err, ErrCodeUnresolvedDependency)
	if !found {
		return "", "", false
	}
	dependency, _ = e.Details["dependency"].(string)
	output, _ = e.Details["output"].(string)
	return dependency, output, true
}

// Problems returns the individual problems listed by a ValidationError.
func Problems(err error) []string {
	e, ok := find(err, ErrCodeValidation)
	if !ok {
		return nil
	}
	list, _ := e.Details["errors"].([]string)
	return list
}

func find(err error, code ErrorCode) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return e, true
		}
		err = stderrors.Unwrap(err)
	}
	return nil, false
}
