package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"chatvault/internal/kvstore"
	"chatvault/internal/models"
)

// legacyImportKey marks the one-time migration from the previous storage
// generation as done so it never reruns.
const legacyImportKey = "legacyImportDone"

// LegacySnapshot is the export shape of the previous storage generation: a
// flat chat array with embedded messages plus the folder list.
type LegacySnapshot struct {
	Version int             `json:"version"`
	Chats   []models.Chat   `json:"chats"`
	Folders []models.Folder `json:"folders"`
}

// DefaultLegacySnapshotPath is where an exported previous-generation store is
// looked for at first start.
func DefaultLegacySnapshotPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, "chatvault", "legacy.json")
}

// runLegacyImport seeds the repository from a legacy snapshot exactly once,
// and only into an empty repository.
func (s *chatSessionService) runLegacyImport(ctx context.Context) error {
	if kvstore.GetOr(s.kv, legacyImportKey, false) {
		return nil
	}
	if !s.repo.Available() {
		return nil
	}

	markDone := func() {
		if err := s.kv.Set(legacyImportKey, true); err != nil {
			log.Printf("legacy import: persist marker: %v", err)
		}
	}

	empty, err := s.repo.IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("check repository: %w", err)
	}
	if !empty {
		markDone()
		return nil
	}

	snapshot, err := loadLegacySnapshot(DefaultLegacySnapshotPath())
	if err != nil {
		markDone()
		return err
	}
	if snapshot == nil {
		markDone()
		return nil
	}

	if err := s.repo.ImportLegacyData(ctx, snapshot.Chats, snapshot.Folders); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	log.Printf("legacy import: migrated %d chats and %d folders", len(snapshot.Chats), len(snapshot.Folders))
	markDone()
	return nil
}

func loadLegacySnapshot(path string) (*LegacySnapshot, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot LegacySnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("parse legacy snapshot: %w", err)
	}
	return &snapshot, nil
}
