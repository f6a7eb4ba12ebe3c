// Package gateway turns a chat history into a streamed model response, framed
// with the line-oriented protocol from package stream. The session service
// only ever sees the framed reader, so a fake gateway and the real one are
// interchangeable.
package gateway

import (
	"context"
	"io"

	"chatvault/internal/models"
)

// PromptMessage is one ordered role/content pair of the provider payload.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is everything a provider call needs.
type Request struct {
	Messages []PromptMessage
	APIKey   string
	Provider string
	Model    string
	Params   models.ModelSettings
}

// Gateway produces an incrementally-delivered response stream. The returned
// reader yields "data: " framed events ending with the completion sentinel;
// closing it aborts the underlying call.
type Gateway interface {
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}
