package services

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"

	"chatvault/internal/events"
	"chatvault/internal/kvstore"
)

const serviceName = "chatvault"

const providersKey = "providers"

// minKeyLength is a heuristic only; real validation happens when the provider
// rejects the key.
const minKeyLength = 12

// KeyringService keeps provider API keys in the OS keyring. The list of
// providers that have a stored key lives in the key-value store so keys can
// be enumerated without probing the keyring blindly.
type KeyringService struct {
	kv      *kvstore.Store
	emitter events.Emitter
	ctx     context.Context
}

func NewKeyringService(kv *kvstore.Store, emitter events.Emitter) *KeyringService {
	if emitter == nil {
		emitter = events.Nop()
	}
	return &KeyringService{kv: kv, emitter: emitter}
}

func (s *KeyringService) Startup(ctx context.Context) {
	s.ctx = ctx
}

func (s *KeyringService) StoreAPIKey(provider, apiKey string) error {
	if provider == "" {
		return errors.New("provider is required")
	}
	if len(apiKey) < minKeyLength {
		return errors.New("API key looks too short")
	}

	if err := keyring.Set(serviceName, provider, apiKey); err != nil {
		return err
	}
	if err := s.addProvider(provider); err != nil {
		return err
	}
	s.emitter.Emit(s.ctx, events.APIKeyUpdated, events.NewSuccess("API key stored for "+provider))
	return nil
}

// GetAPIKey returns the stored key, or an empty string when none exists.
func (s *KeyringService) GetAPIKey(provider string) (string, error) {
	if provider == "" {
		return "", errors.New("provider is required")
	}
	key, err := keyring.Get(serviceName, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *KeyringService) DeleteAPIKey(provider string) error {
	if provider == "" {
		return errors.New("provider is required")
	}

	err := keyring.Delete(serviceName, provider)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	if err := s.removeProvider(provider); err != nil {
		return err
	}
	s.emitter.Emit(s.ctx, events.APIKeyUpdated, events.NewInfo("API key removed for "+provider))
	return nil
}

// ListProviders returns the providers with a stored key.
func (s *KeyringService) ListProviders() []string {
	providers := kvstore.GetOr(s.kv, providersKey, []string{})
	var results []string
	for _, provider := range providers {
		if _, err := keyring.Get(serviceName, provider); err != nil {
			continue
		}
		results = append(results, provider)
	}
	return results
}

func (s *KeyringService) addProvider(provider string) error {
	providers := kvstore.GetOr(s.kv, providersKey, []string{})
	for _, p := range providers {
		if p == provider {
			return nil
		}
	}
	return s.kv.Set(providersKey, append(providers, provider))
}

func (s *KeyringService) removeProvider(provider string) error {
	providers := kvstore.GetOr(s.kv, providersKey, []string{})
	var kept []string
	for _, p := range providers {
		if p != provider {
			kept = append(kept, p)
		}
	}
	return s.kv.Set(providersKey, kept)
}
