package main

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm/logger"

	"chatvault/internal/database"
	"chatvault/internal/events"
	"chatvault/internal/kvstore"
	"chatvault/internal/llm/gateway"
	"chatvault/internal/repositories"
	"chatvault/internal/services"
)

// App wires the stores, services and the provider gateway together and owns
// their startup/shutdown lifecycle.
type App struct {
	ctx context.Context

	Session  services.ChatSessionService
	Settings services.SettingsService
	Profiles services.ProfileService
	Catalog  services.ModelCatalogService
	Keyring  *services.KeyringService

	dbClose func() error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) error {
	a.ctx = ctx

	logLevel := logger.Warn
	if database.IsDevelopment() {
		logLevel = logger.Info
	}
	db := database.Open(database.Config{LogLevel: logLevel})
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			a.dbClose = sqlDB.Close
		}
	}

	kv := kvstore.Open()
	emitter := events.EmitterFunc(func(_ context.Context, name string, evt events.Event) {
		if evt.Type == events.EventError {
			log.Printf("[%s] %s", name, evt.Message)
		}
	})

	repo := repositories.NewChatRepository(db)

	a.Keyring = services.NewKeyringService(kv, emitter)
	a.Keyring.Startup(ctx)

	a.Settings = services.NewSettingsService(kv, emitter)
	a.Settings.Startup(ctx)

	a.Profiles = services.NewProfileService(kv, emitter)
	a.Profiles.Startup(ctx)

	a.Catalog = services.NewModelCatalogService()
	if err := a.Catalog.Startup(ctx); err != nil {
		return fmt.Errorf("start model catalog: %w", err)
	}

	a.Session = services.NewChatSessionService(
		repo, kv, a.Keyring, a.Settings, a.Profiles, a.Catalog,
		gateway.NewEinoGateway(), emitter,
	)
	if err := a.Session.Startup(ctx); err != nil {
		return fmt.Errorf("start chat session: %w", err)
	}
	return nil
}

func (a *App) shutdown() {
	if current := a.Session; current != nil {
		for _, chat := range current.Chats() {
			current.StopGeneration(chat.ID)
		}
	}
	if a.dbClose != nil {
		if err := a.dbClose(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
		a.dbClose = nil
	}
}
