// Package mcp exposes the knowledge engine over the Model Context
// Protocol: search, ask, and status tools plus per-document resources,
// served over stdio to AI clients.
package mcp

import (
	"errors"
	"fmt"

	kerrors "github.com/jmswen/knowledge/internal/errors"
)

// Custom protocol error codes.
const (
	// ErrCodeIndexNotFound indicates no index exists for the corpus.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeBusy indicates a conversation already has a live stream;
	// the caller should retry.
	ErrCodeBusy = -32003

	// ErrCodeDocumentNotFound indicates the referenced document does
	// not exist.
	ErrCodeDocumentNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrDocumentNotFound indicates the requested document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")
)

// ProtocolError pairs a JSON-RPC error code with a message.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError builds an invalid-params protocol error.
func NewInvalidParamsError(msg string) *ProtocolError {
	return &ProtocolError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts internal errors to protocol errors by error kind.
func MapError(err error) *ProtocolError {
	if err == nil {
		return nil
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, ErrDocumentNotFound) {
		return &ProtocolError{Code: ErrCodeDocumentNotFound, Message: err.Error()}
	}
	if errors.Is(err, ErrInvalidParams) {
		return &ProtocolError{Code: ErrCodeInvalidParams, Message: err.Error()}
	}

	if kind, ok := kerrors.KindOf(err); ok {
		switch kind {
		case kerrors.KindInput:
			return &ProtocolError{Code: ErrCodeInvalidParams, Message: err.Error()}
		case kerrors.KindConcurrency:
			return &ProtocolError{Code: ErrCodeBusy, Message: err.Error()}
		case kerrors.KindTransient:
			return &ProtocolError{Code: ErrCodeEmbeddingFailed, Message: err.Error()}
		}
	}

	return &ProtocolError{Code: ErrCodeInternalError, Message: err.Error()}
}
