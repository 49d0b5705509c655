package entities

import (
	"context"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
)

// Profiles tracks the signed-in user's own profile document, whose id is the user id.
type Profiles struct {
	*Hook[domain.Profile]
}

// NewProfiles constructs the profile hook.
func NewProfiles(opts Options) (*Profiles, error) {
	collection, _ := domain.LookupCollection(domain.CollectionProfiles)
	hook, err := newHook(Descriptor[domain.Profile]{
		Collection:       collection,
		CacheKeyTemplate: localstore.KeyUserProfile,
		Key:              func(profile domain.Profile) string { return profile.ID },
		Validate:         func(profile domain.Profile) error { return profile.Validate() },
		Filter: func(ownerID string, profile domain.Profile) bool {
			return profile.ID == ownerID
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Profiles{Hook: hook}, nil
}

// Current returns the signed-in user's profile once it has been loaded.
func (p *Profiles) Current() (domain.Profile, bool) {
	data := p.State().Data
	if len(data) == 0 {
		return domain.Profile{}, false
	}
	return data[0], true
}

// Save creates or replaces the profile. An empty role is stored as player.
func (p *Profiles) Save(ctx context.Context, profile domain.Profile) error {
	userID, _, err := p.scope()
	if err != nil {
		return err
	}
	if profile.Role == "" {
		profile.Role = domain.RolePlayer
	}
	if profile.TeamIDs == nil {
		profile.TeamIDs = []string{}
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	return p.set(ctx, userID, profile)
}

// Update merges fields into the profile.
func (p *Profiles) Update(ctx context.Context, fields map[string]any) error {
	userID, _, err := p.scope()
	if err != nil {
		return err
	}
	return p.update(ctx, userID, fields)
}
