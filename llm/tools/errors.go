package tools

import (
	"fmt"
	"unicode/utf8"

	"github.com/BaSui01/crewflow/types"
)

// Kind classifies a tool failure.
type Kind string

const (
	KindUnknownTool    Kind = "unknown_tool"
	KindBadArguments   Kind = "bad_arguments"
	KindAdapterFailure Kind = "adapter_failure"
	KindTimeout        Kind = "timeout"
)

// MaxMessageBytes bounds ToolError.Message; the message is sent back to
// the model as tool content.
const MaxMessageBytes = 512

var errToolCode = types.NewError(types.ErrTool, "tool invocation failed")

// ToolError is the typed failure of a tool invocation. Agents hand it to
// the model as "Error: <kind>: <message>" instead of failing the task.
type ToolError struct {
	Kind    Kind   `json:"kind"`
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the TOOL engine code and the underlying cause.
func (e *ToolError) Unwrap() []error {
	if e.Cause != nil {
		return []error{errToolCode, e.Cause}
	}
	return []error{errToolCode}
}

// NewToolError builds a ToolError, truncating the message to MaxMessageBytes.
func NewToolError(kind Kind, tool, message string, cause error) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Message: truncate(message, MaxMessageBytes), Cause: cause}
}

// truncate 按字节截断，但不会切断多字节字符
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
