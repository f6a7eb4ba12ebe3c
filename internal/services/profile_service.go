package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/events"
	"chatvault/internal/kvstore"
	"chatvault/internal/models"
)

const (
	profilesKey       = "profiles"
	currentProfileKey = "currentProfileId"
)

// ProfileService manages user profiles in the key-value store. Exactly one
// profile is current at a time, tracked by a separately stored id pointer.
type ProfileService interface {
	Startup(ctx context.Context)
	List() []models.UserProfile
	Current() *models.UserProfile
	SetCurrent(id string) error
	Create(name string) (*models.UserProfile, error)
	Update(profile models.UserProfile) error
	Delete(id string) error
}

type profileService struct {
	kv      *kvstore.Store
	emitter events.Emitter
	ctx     context.Context
}

func NewProfileService(kv *kvstore.Store, emitter events.Emitter) ProfileService {
	if emitter == nil {
		emitter = events.Nop()
	}
	return &profileService{kv: kv, emitter: emitter}
}

func (s *profileService) Startup(ctx context.Context) {
	s.ctx = ctx
}

func (s *profileService) List() []models.UserProfile {
	return kvstore.GetOr(s.kv, profilesKey, []models.UserProfile{})
}

func (s *profileService) Current() *models.UserProfile {
	currentID := kvstore.GetOr(s.kv, currentProfileKey, "")
	if currentID == "" {
		return nil
	}
	for _, p := range s.List() {
		if p.ID == currentID {
			return &p
		}
	}
	return nil
}

func (s *profileService) SetCurrent(id string) error {
	if id == "" {
		s.kv.Remove(currentProfileKey)
		return nil
	}
	for _, p := range s.List() {
		if p.ID == id {
			return s.kv.Set(currentProfileKey, id)
		}
	}
	return errors.New("profile not found")
}

func (s *profileService) Create(name string) (*models.UserProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("profile name is required")
	}

	now := time.Now()
	profile := models.UserProfile{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	profiles := append(s.List(), profile)
	if err := s.kv.Set(profilesKey, profiles); err != nil {
		return nil, err
	}
	// First profile becomes current automatically.
	if len(profiles) == 1 {
		if err := s.kv.Set(currentProfileKey, profile.ID); err != nil {
			return nil, err
		}
	}
	s.emitter.Emit(s.ctx, events.ProfileUpdated, events.NewSuccess("profile created"))
	return &profile, nil
}

func (s *profileService) Update(profile models.UserProfile) error {
	if profile.ID == "" {
		return errors.New("profile id is required")
	}

	profiles := s.List()
	for i := range profiles {
		if profiles[i].ID == profile.ID {
			profile.CreatedAt = profiles[i].CreatedAt
			profile.UpdatedAt = time.Now()
			profiles[i] = profile
			if err := s.kv.Set(profilesKey, profiles); err != nil {
				return err
			}
			s.emitter.Emit(s.ctx, events.ProfileUpdated, events.NewSuccess("profile updated"))
			return nil
		}
	}
	return errors.New("profile not found")
}

// Delete removes the profile. When the deleted profile was current, the
// pointer moves to the first remaining profile, or clears.
func (s *profileService) Delete(id string) error {
	if id == "" {
		return errors.New("profile id is required")
	}

	profiles := s.List()
	kept := profiles[:0]
	found := false
	for _, p := range profiles {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return errors.New("profile not found")
	}
	if err := s.kv.Set(profilesKey, kept); err != nil {
		return err
	}

	if kvstore.GetOr(s.kv, currentProfileKey, "") == id {
		if len(kept) > 0 {
			if err := s.kv.Set(currentProfileKey, kept[0].ID); err != nil {
				return err
			}
		} else {
			s.kv.Remove(currentProfileKey)
		}
	}
	s.emitter.Emit(s.ctx, events.ProfileUpdated, events.NewInfo("profile deleted"))
	return nil
}
