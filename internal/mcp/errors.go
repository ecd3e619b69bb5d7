// Package mcp exposes the retrieval pipeline over the Model Context
// Protocol: one stdio server whose tools mirror the CLI operations.
package mcp

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/pampax/pampax/internal/errors"
)

// JSON-RPC error codes. The negative 32xxx range below -32000 is
// reserved for implementation-defined server errors.
const (
	CodeInvalidParams = -32602
	CodeInternal      = -32603

	CodeUnavailable = -32001
	CodeTimeout     = -32002
	CodeNotFound    = -32004
	CodeConflict    = -32005
)

// Error is a JSON-RPC shaped error carried back to the client.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// MapError converts pipeline errors to protocol errors. The kind
// decides the code; the message passes through so clients see the
// operation that failed.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if stderrors.As(err, &me) {
		return me
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "request timed out"}
	}
	if stderrors.Is(err, context.Canceled) {
		return &Error{Code: CodeTimeout, Message: "request was cancelled"}
	}

	switch errors.KindOf(err) {
	case errors.KindInvalidInput:
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.KindNotFound:
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.KindUnavailable:
		return &Error{Code: CodeUnavailable, Message: err.Error()}
	case errors.KindConflict:
		return &Error{Code: CodeConflict, Message: err.Error()}
	case errors.KindCancelled:
		return &Error{Code: CodeTimeout, Message: err.Error()}
	default:
		return &Error{Code: CodeInternal, Message: err.Error()}
	}
}

// invalidParams builds a CodeInvalidParams error with a direct message.
func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}
