package service

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a contract or product does not exist
var ErrNotFound = errors.New("not found")

// ProviderError is an error reported by the e-sign provider. Code and
// RequestID come from the response envelope; RequestID is empty when the
// failure happened before the provider assigned one.
type ProviderError struct {
	Code      string
	Message   string
	RequestID string
}

func (e *ProviderError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %s: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
}

// NetworkError is a transport failure with no provider error code
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// PreconditionError is a local guard failure (wrong contract status,
// missing template id, missing flow id). Never retried.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// DataShapeError marks a structurally unusable provider response
// (empty sign-url list, empty template list, unknown status code).
type DataShapeError struct {
	Reason string
}

func (e *DataShapeError) Error() string {
	return "unexpected provider data: " + e.Reason
}

// Orchestration step names used for error attribution.
const (
	StepInit    = "INIT"
	StepUnknown = "UNKNOWN"
)

// StepError attributes a failure to the orchestration step that raised it
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// retryableCodes is the fixed whitelist of transient provider error codes
var retryableCodes = map[string]bool{
	"InternalError":            true,
	"InternalError.Api":        true,
	"InternalError.System":     true,
	"InternalError.DependsApi": true,
	"RequestLimitExceeded":     true,
}

// IsRetryable reports whether err is worth another attempt: transport
// failures and the transient provider codes. Everything else is terminal.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return retryableCodes[provErr.Code]
	}
	return false
}

// errorMessages remaps terminal provider codes to operator-readable text
var errorMessages = map[string]string{
	"AuthFailure.SignatureFailure":   "request signature verification failed",
	"AuthFailure.SignatureExpire":    "request signature expired, check the local clock",
	"AuthFailure.SecretIdNotFound":   "secret id not found or disabled",
	"FailedOperation":                "the provider could not complete the operation",
	"InvalidParameter":               "invalid request parameter",
	"InvalidParameter.ParamError":    "invalid request parameter",
	"MissingParameter":               "a required parameter is missing",
	"OperationDenied":                "the provider denied this operation",
	"OperationDenied.NoPermission":   "this credential lacks permission for the operation",
	"ResourceNotFound.Flow":          "signing flow not found on the provider side",
	"ResourceNotFound.Template":      "template not found on the provider side",
	"ResourceNotFound.Document":      "document not found on the provider side",
	"UnauthorizedOperation":          "operation not authorized for this credential",
	"LimitExceeded.FlowApproverNum":  "too many approvers for one flow",
	"InvalidParameterValue.Mobile":   "approver mobile number is not valid",
	"InvalidParameterValue.Deadline": "flow deadline is not valid",
}

// MessageForCode resolves a provider code to a readable message; unknown
// codes keep the raw code visible instead of being swallowed.
func MessageForCode(code string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error: %s", code)
}
