package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"chatvault/internal/events"
	"chatvault/internal/llm/gateway"
	"chatvault/internal/llm/stream"
	"chatvault/internal/models"
)

// flushInterval bounds how often streamed content is written through to the
// repository. Flushing per token would hammer the store for nothing; the
// in-memory mirror is what the UI renders.
const flushInterval = 250 * time.Millisecond

// Send appends a user message and synchronously runs the assistant response
// for it. This is the path a submit action takes.
func (s *chatSessionService) Send(ctx context.Context, chatID, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message content is required")
	}
	if _, err := s.AddMessage(chatID, content, models.RoleUser); err != nil {
		return err
	}
	return s.Generate(ctx, chatID)
}

// Generate streams an assistant response into the chat. Configuration
// problems (unknown model, missing key, empty history) synthesize a system
// message instead of failing; transport problems do the same after the fact.
// Only genuine programming errors (unknown chat) return an error.
func (s *chatSessionService) Generate(ctx context.Context, chatID string) error {
	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		s.mu.Unlock()
		return errors.New("chat not found")
	}
	if _, busy := s.generating[chatID]; busy {
		s.mu.Unlock()
		log.Printf("chat session: generation already running for chat %s", chatID)
		return nil
	}
	// Claim the chat in the same critical section as the busy check, so a
	// concurrent Generate cannot slip in while keys and payload are prepared.
	genCtx, cancel := context.WithCancel(ctx)
	s.generating[chatID] = cancel
	modelKey := chat.Model
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.generating, chatID)
		s.mu.Unlock()
		cancel()
	}()

	mdl, err := s.catalog.GetModel(modelKey)
	if err != nil {
		s.failSoft(chatID, fmt.Sprintf("The model %q is not available. Pick another model in settings.", modelKey))
		return nil
	}
	apiKey, err := s.keys.GetAPIKey(mdl.ProviderID)
	if err != nil {
		log.Printf("chat session: key lookup for %s: %v", mdl.ProviderID, err)
	}
	if apiKey == "" {
		s.failSoft(chatID, fmt.Sprintf("No API key is configured for %s. Add one in settings to start chatting.", mdl.ProviderName))
		return nil
	}

	settings := s.settings.Get()
	payload := s.buildPayload(chatID, settings)
	if payload == nil {
		s.failSoft(chatID, "There is nothing to send yet. Type a message first.")
		return nil
	}

	placeholder, err := s.AddMessage(chatID, "", models.RoleAssistant)
	if err != nil {
		return err
	}

	rc, err := s.gw.Stream(genCtx, gateway.Request{
		Messages: payload,
		APIKey:   apiKey,
		Provider: mdl.ProviderID,
		Model:    mdl.APIName,
		Params:   settings.Model,
	})
	if err != nil {
		if genCtx.Err() != nil {
			// Stopped before the stream opened; the placeholder never held
			// anything worth keeping.
			s.discardEmptyPlaceholder(chatID, placeholder.ID)
			s.emitter.Emit(events.WithChat(s.ctx, chatID), events.GenerateDone, events.NewInfo("generation stopped"))
			return nil
		}
		s.handleStreamFailure(chatID, placeholder.ID, err.Error())
		return nil
	}
	// Unblock the decoder when the caller cancels.
	go func() {
		<-genCtx.Done()
		rc.Close()
	}()
	defer rc.Close()

	dec := stream.NewDecoder(rc)
	lastFlush := time.Now()
	var streamErr string

	for {
		evt, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if genCtx.Err() != nil {
				break
			}
			streamErr = err.Error()
			break
		}
		if evt.Type == stream.TypeError {
			if genCtx.Err() != nil {
				break
			}
			streamErr = evt.Value
			break
		}

		s.appendChunk(chatID, placeholder.ID, evt.Value)
		s.emitter.Emit(events.WithChat(genCtx, chatID), events.GenerateChunk, events.NewInfo(evt.Value))
		if time.Since(lastFlush) >= flushInterval {
			s.flushMessage(chatID, placeholder.ID)
			lastFlush = time.Now()
		}
	}

	cancelled := genCtx.Err() != nil && streamErr == ""

	// Final flush keeps whatever arrived, including the partial content of a
	// cancelled stream.
	s.flushMessage(chatID, placeholder.ID)

	if cancelled {
		// Abort is a normal outcome, not an error.
		s.emitter.Emit(events.WithChat(s.ctx, chatID), events.GenerateDone, events.NewInfo("generation stopped"))
		return nil
	}
	if streamErr != "" {
		s.handleStreamFailure(chatID, placeholder.ID, streamErr)
		return nil
	}
	s.emitter.Emit(events.WithChat(s.ctx, chatID), events.GenerateDone, events.NewSuccess("generation complete"))
	return nil
}

func (s *chatSessionService) IsGenerating(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.generating[chatID]
	return busy
}

// StopGeneration cancels the in-flight stream for the chat, if any. Already
// committed partial content stays.
func (s *chatSessionService) StopGeneration(chatID string) {
	s.mu.Lock()
	cancel := s.generating[chatID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// buildPayload assembles the ordered role/content pairs for the provider:
// an optional system prompt (settings plus current profile context) followed
// by the chat history, trimmed of empty in-flight assistant placeholders and
// of local system notices. Returns nil when there is no history to send.
func (s *chatSessionService) buildPayload(chatID string, settings models.Settings) []gateway.PromptMessage {
	system := strings.TrimSpace(settings.Model.SystemPrompt)
	if profile := s.profiles.Current(); profile != nil {
		for _, extra := range []string{profile.Information, profile.CustomInstruction} {
			if strings.TrimSpace(extra) != "" {
				if system != "" {
					system += "\n\n"
				}
				system += strings.TrimSpace(extra)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findChatLocked(chatID)
	if chat == nil {
		return nil
	}
	if err := s.hydrateLocked(chat); err != nil {
		log.Printf("chat session: hydrate for generation: %v", err)
		return nil
	}

	msgs := chat.Messages
	if limit := settings.Model.ContextLimit; limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	var payload []gateway.PromptMessage
	if system != "" {
		payload = append(payload, gateway.PromptMessage{Role: models.RoleSystem, Content: system})
	}
	history := 0
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}
		if msg.Role == models.RoleAssistant && strings.TrimSpace(msg.Content) == "" {
			continue
		}
		payload = append(payload, gateway.PromptMessage{Role: msg.Role, Content: msg.Content})
		history++
	}
	if history == 0 {
		return nil
	}
	return payload
}

// failSoft records a configuration problem as a conversational system message.
func (s *chatSessionService) failSoft(chatID, text string) {
	if _, err := s.AddMessage(chatID, text, models.RoleSystem); err != nil {
		log.Printf("chat session: add system message: %v", err)
	}
	s.emitter.Emit(events.WithChat(s.ctx, chatID), events.GenerateError, events.NewError(text))
}

// handleStreamFailure converts a transport or in-band provider error into a
// system message. An untouched placeholder is replaced; partial content is
// kept with the notice alongside.
func (s *chatSessionService) handleStreamFailure(chatID, placeholderID, cause string) {
	s.discardEmptyPlaceholder(chatID, placeholderID)
	s.failSoft(chatID, "The response could not be completed: "+cause)
}

// discardEmptyPlaceholder removes the placeholder from the mirror and the
// store when no content ever reached it. Partial content is left in place.
func (s *chatSessionService) discardEmptyPlaceholder(chatID, placeholderID string) {
	s.mu.Lock()
	chat := s.findChatLocked(chatID)
	empty := false
	if chat != nil {
		for i := range chat.Messages {
			if chat.Messages[i].ID == placeholderID {
				empty = strings.TrimSpace(chat.Messages[i].Content) == ""
				break
			}
		}
		if empty {
			kept := chat.Messages[:0]
			for _, m := range chat.Messages {
				if m.ID != placeholderID {
					kept = append(kept, m)
				}
			}
			chat.Messages = kept
		}
	}
	s.mu.Unlock()

	if empty {
		if err := s.repo.DeleteMessage(s.ctx, chatID, placeholderID); err != nil {
			log.Printf("chat session: drop empty placeholder: %v", err)
		}
	}
}

func (s *chatSessionService) appendChunk(chatID, messageID, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.findChatLocked(chatID)
	if chat == nil {
		return
	}
	for i := range chat.Messages {
		if chat.Messages[i].ID == messageID {
			chat.Messages[i].Content += chunk
			chat.UpdatedAt = time.Now()
			return
		}
	}
}

func (s *chatSessionService) flushMessage(chatID, messageID string) {
	s.mu.Lock()
	var snapshot *models.Message
	if chat := s.findChatLocked(chatID); chat != nil {
		for i := range chat.Messages {
			if chat.Messages[i].ID == messageID {
				copied := chat.Messages[i]
				snapshot = &copied
				break
			}
		}
	}
	s.mu.Unlock()

	if snapshot == nil {
		return
	}
	if _, err := s.repo.SaveMessage(s.ctx, snapshot); err != nil {
		log.Printf("chat session: flush streamed message: %v", err)
	}
}
