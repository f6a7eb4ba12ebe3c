package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/schema"

	"chatvault/internal/llm/client"
	"chatvault/internal/llm/stream"
	"chatvault/internal/models"
)

// EinoGateway is the real provider gateway. It builds a provider-specific
// chat model per request and relays its token stream into the framed wire
// format.
type EinoGateway struct{}

func NewEinoGateway() *EinoGateway {
	return &EinoGateway{}
}

func (g *EinoGateway) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("request has no messages")
	}
	if req.APIKey == "" {
		return nil, errors.New("api key is required")
	}

	llmClient, err := newClient(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, err := llmClient.Stream(ctx, toSchemaMessages(req.Messages))
	if err != nil {
		return nil, err
	}
	log.Printf("gateway: %s stream opened for model %s", llmClient.Provider(), req.Model)

	pr, pw := io.Pipe()
	go relay(reader, pw)
	return pr, nil
}

func newClient(ctx context.Context, req Request) (*client.LLMClient, error) {
	opts := client.Options{Model: req.Model, Params: req.Params}
	switch req.Provider {
	case "openai":
		return client.NewOpenAIClient(ctx, req.APIKey, opts)
	case "anthropic":
		return client.NewClaudeClient(ctx, req.APIKey, opts)
	case "gemini":
		return client.NewGeminiClient(ctx, req.APIKey, opts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", req.Provider)
	}
}

func toSchemaMessages(msgs []PromptMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// relay drains the eino stream into the framed pipe. Transport failures
// become in-band error events so the consumer sees them in stream order.
func relay(reader *schema.StreamReader[*schema.Message], pw *io.PipeWriter) {
	defer reader.Close()
	w := stream.NewWriter(pw)

	for {
		msg, err := reader.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if werr := w.Error(err.Error()); werr != nil {
					log.Printf("gateway: write error frame: %v", werr)
				}
			}
			break
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if err := w.Text(msg.Content); err != nil {
			// Consumer went away (cancellation); stop relaying.
			log.Printf("gateway: relay stopped: %v", err)
			pw.CloseWithError(err)
			return
		}
	}

	if err := w.Done(); err != nil {
		log.Printf("gateway: write done frame: %v", err)
	}
	pw.Close()
}
