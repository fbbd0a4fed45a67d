package apierrors

// ToolInvalidParams marks a JSON-RPC -32602 response that exhausted every method-name
// fallback (spec.md §4.2); recoverable at the call site, never surfaced to the client
// directly, only as a CodeError/ServerError stream variant.
func ToolInvalidParams(method, message string) *Error {
	return newError(KindToolInvalidParams, 0, message, map[string]interface{}{"method": method})
}

// ToolDenied marks a tool call refused by the tool server (auth, policy); surfaced as
// a ServerError event, never terminates the conversation.
func ToolDenied(toolName, message string) *Error {
	return newError(KindToolDenied, 0, message, map[string]interface{}{"tool": toolName})
}

// ModelStreamError marks a failure in the completion stream itself; surfaced as an
// OpenAIError stream variant.
func ModelStreamError(message string) *Error {
	return newError(KindModelStreamError, 0, message, nil)
}

// Cancelled marks a cooperative cancellation of the orchestrator's top-level task.
func Cancelled(message string) *Error {
	return newError(KindCancelled, 0, message, nil)
}

// Internal marks an unexpected internal failure.
func Internal(message string, details map[string]interface{}) *Error {
	return newError(KindInternal, 500, message, details)
}
