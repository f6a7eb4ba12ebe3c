package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"chatvault/internal/events"
	"chatvault/internal/kvstore"
	"chatvault/internal/models"
)

const settingsKey = "settings"

type SettingsService interface {
	Startup(ctx context.Context)
	Get() models.Settings
	Save(settings models.Settings) error
}

type settingsService struct {
	kv      *kvstore.Store
	emitter events.Emitter
	ctx     context.Context
}

func NewSettingsService(kv *kvstore.Store, emitter events.Emitter) SettingsService {
	if emitter == nil {
		emitter = events.Nop()
	}
	return &settingsService{kv: kv, emitter: emitter}
}

func (s *settingsService) Startup(ctx context.Context) {
	s.ctx = ctx
}

// Get returns the persisted settings with defaults deep-merged underneath, so
// a record written by an older build never surfaces zero values for fields it
// predates.
func (s *settingsService) Get() models.Settings {
	defaults := models.DefaultSettings()

	var stored map[string]any
	if !s.kv.Get(settingsKey, &stored) {
		return defaults
	}

	merged := toMap(defaults)
	deepMerge(merged, stored)

	var out models.Settings
	raw, err := json.Marshal(merged)
	if err == nil {
		err = json.Unmarshal(raw, &out)
	}
	if err != nil {
		log.Printf("settings: merged record unreadable, using defaults: %v", err)
		return defaults
	}
	return out
}

// Save writes the whole record back. Field-level mutation helpers in the UI
// all funnel through here.
func (s *settingsService) Save(settings models.Settings) error {
	if settings.Theme == "" {
		return errors.New("theme is required")
	}
	if err := s.kv.Set(settingsKey, settings); err != nil {
		return err
	}
	s.emitter.Emit(s.ctx, events.SettingsUpdated, events.NewSuccess("settings saved"))
	return nil
}

func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// deepMerge lays src over dst, recursing into nested objects so a partial
// nested record keeps the defaults for the fields it does not mention.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}
