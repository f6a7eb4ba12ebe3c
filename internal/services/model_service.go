package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chatvault/internal/assets"
	"chatvault/internal/models"
)

// ModelCatalogService exposes the static catalog of provider models and
// resolves a model key to the provider that serves it.
type ModelCatalogService interface {
	Startup(ctx context.Context) error
	ListModelGroups() []models.LLMModelGroup
	GetModel(modelKey string) (*models.LLMModel, error)
	DefaultModelKey() string
}

type modelCatalogService struct {
	ctx context.Context

	mu            sync.RWMutex
	providerOrder []string
	providerNames map[string]string
	models        map[string]models.LLMModel
	defaultKey    string
}

type rawModelFile struct {
	Providers []rawProvider `json:"providers"`
}

type rawProvider struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Models      []rawModel `json:"models"`
}

type rawModel struct {
	DisplayName string `json:"displayName"`
	APIName     string `json:"apiName"`
}

func NewModelCatalogService() ModelCatalogService {
	return &modelCatalogService{
		providerNames: make(map[string]string),
		models:        make(map[string]models.LLMModel),
	}
}

func (s *modelCatalogService) Startup(ctx context.Context) error {
	s.ctx = ctx

	var parsed rawModelFile
	if err := json.Unmarshal(assets.ModelsData, &parsed); err != nil {
		return fmt.Errorf("parse models asset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.providerOrder = make([]string, 0, len(parsed.Providers))
	for _, provider := range parsed.Providers {
		providerID := strings.TrimSpace(provider.ID)
		if providerID == "" {
			continue
		}
		providerName := strings.TrimSpace(provider.DisplayName)
		s.providerNames[providerID] = providerName
		s.providerOrder = append(s.providerOrder, providerID)
		for _, mdl := range provider.Models {
			key := computeModelKey(providerID, mdl.APIName)
			s.models[key] = models.LLMModel{
				Key:          key,
				DisplayName:  strings.TrimSpace(mdl.DisplayName),
				APIName:      strings.TrimSpace(mdl.APIName),
				ProviderID:   providerID,
				ProviderName: providerName,
			}
			if s.defaultKey == "" {
				s.defaultKey = key
			}
		}
	}
	return nil
}

func (s *modelCatalogService) ListModelGroups() []models.LLMModelGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.LLMModelGroup, 0, len(s.providerOrder))
	for _, providerID := range s.providerOrder {
		group := models.LLMModelGroup{
			ProviderID:   providerID,
			ProviderName: s.providerNames[providerID],
		}
		for _, mdl := range s.models {
			if mdl.ProviderID == providerID {
				group.Models = append(group.Models, mdl)
			}
		}
		sort.Slice(group.Models, func(i, j int) bool {
			return group.Models[i].DisplayName < group.Models[j].DisplayName
		})
		groups = append(groups, group)
	}
	return groups
}

func (s *modelCatalogService) GetModel(modelKey string) (*models.LLMModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mdl, ok := s.models[strings.TrimSpace(modelKey)]
	if !ok {
		return nil, fmt.Errorf("model %s not found", modelKey)
	}
	return &mdl, nil
}

func (s *modelCatalogService) DefaultModelKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultKey
}

func computeModelKey(providerID, apiName string) string {
	return providerID + "/" + strings.TrimSpace(apiName)
}
