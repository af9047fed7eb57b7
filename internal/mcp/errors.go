package mcp

import (
	"fmt"

	"github.com/lodekb/lodestone/internal/errors"
)

// JSON-RPC error codes for the tool surface. The -32000 range is
// reserved for implementation-defined server errors.
const (
	ErrCodeNotFound     = -32001
	ErrCodeInvalidPath  = -32002
	ErrCodeForbidden    = -32003
	ErrCodeUnavailable  = -32004
	ErrCodeInternal     = -32603
	ErrCodeInvalidParam = -32602
)

// Error is a tool failure with a JSON-RPC code, surfaced to the MCP
// client verbatim.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// MapError converts an internal error into a client-facing Error,
// keeping the message but normalizing the code by kind.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var mcpErr *Error
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	code := ErrCodeInternal
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		code = ErrCodeNotFound
	case errors.KindInvalidPath:
		code = ErrCodeInvalidPath
	case errors.KindPermissionDenied:
		code = ErrCodeForbidden
	case errors.KindConflict:
		code = ErrCodeInvalidParam
	case errors.KindStoreUnavailable:
		code = ErrCodeUnavailable
	}
	return &Error{Code: code, Message: err.Error()}
}
