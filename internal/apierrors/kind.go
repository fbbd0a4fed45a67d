// Package apierrors implements the error taxonomy of the orchestrator: a small set of
// typed kinds with an associated HTTP status, plus gin abort helpers, following the
// teacher's pattern of one error kind per file with standalone constructors.
package apierrors

// Kind is the machine-readable error taxonomy.
type Kind string

const (
	KindInputValidation      Kind = "input-validation"
	KindAuth                 Kind = "auth"
	KindUpstreamUnreachable  Kind = "upstream-unreachable"
	KindUpstreamProtocol     Kind = "upstream-protocol"
	KindToolInvalidParams    Kind = "tool-invalid-params"
	KindToolDenied           Kind = "tool-denied"
	KindModelStreamError     Kind = "model-stream-error"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
)

// Error is the orchestrator's standard error shape, carrying an HTTP status and a
// structured kind alongside a human-readable message.
type Error struct {
	Kind       Kind                   `json:"kind"`
	Message    string                 `json:"error"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, status int, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details, HTTPStatus: status}
}
