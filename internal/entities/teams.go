package entities

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
)

// Teams tracks every team in the shared namespace. Join and Leave keep the team member list and
// the signed-in user's profile team list in step.
type Teams struct {
	*Hook[domain.Team]
}

// NewTeams constructs the teams hook.
func NewTeams(opts Options) (*Teams, error) {
	collection, _ := domain.LookupCollection(domain.CollectionTeams)
	hook, err := newHook(Descriptor[domain.Team]{
		Collection:       collection,
		CacheKeyTemplate: localstore.KeyAllTeams,
		Key:              func(team domain.Team) string { return team.ID },
		Validate:         func(team domain.Team) error { return team.Validate() },
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Teams{Hook: hook}, nil
}

// Add creates an empty team.
func (t *Teams) Add(ctx context.Context, name string) (string, error) {
	team := domain.Team{Name: strings.TrimSpace(name), MemberIDs: []string{}}
	if err := team.Validate(); err != nil {
		return "", err
	}
	return t.add(ctx, team)
}

func (t *Teams) Rename(ctx context.Context, teamID, name string) error {
	renamed := domain.Team{Name: strings.TrimSpace(name)}
	if err := renamed.Validate(); err != nil {
		return err
	}
	return t.update(ctx, teamID, map[string]any{"name": renamed.Name})
}

// Delete removes the team and drops it from the signed-in user's profile. Other members'
// profiles keep a dangling id until they leave.
func (t *Teams) Delete(ctx context.Context, teamID string) error {
	if err := t.remove(ctx, teamID); err != nil {
		return err
	}
	return t.updateProfile(ctx, func(profile domain.Profile) domain.Profile {
		return profile.WithoutTeam(teamID)
	}, false)
}

// Join adds the signed-in user to the team.
func (t *Teams) Join(ctx context.Context, teamID string) error {
	userID, _, err := t.scope()
	if err != nil {
		return err
	}
	team, err := t.get(ctx, teamID)
	if err != nil {
		return err
	}
	if !team.HasMember(userID) {
		joined := team.WithMember(userID)
		if err := t.update(ctx, teamID, map[string]any{"memberIds": joined.MemberIDs}); err != nil {
			return err
		}
	}
	return t.updateProfile(ctx, func(profile domain.Profile) domain.Profile {
		return profile.WithTeam(teamID)
	}, true)
}

// Leave removes the signed-in user from the team.
func (t *Teams) Leave(ctx context.Context, teamID string) error {
	userID, _, err := t.scope()
	if err != nil {
		return err
	}
	team, err := t.get(ctx, teamID)
	if err != nil {
		return err
	}
	if team.HasMember(userID) {
		left := team.WithoutMember(userID)
		if err := t.update(ctx, teamID, map[string]any{"memberIds": left.MemberIDs}); err != nil {
			return err
		}
	}
	return t.updateProfile(ctx, func(profile domain.Profile) domain.Profile {
		return profile.WithoutTeam(teamID)
	}, false)
}

// updateProfile rewrites the team list of the signed-in user's profile. A missing profile is
// created when create is set and skipped otherwise.
func (t *Teams) updateProfile(ctx context.Context, change func(domain.Profile) domain.Profile, create bool) error {
	userID, _, err := t.scope()
	if err != nil {
		return err
	}
	profiles, _ := domain.LookupCollection(domain.CollectionProfiles)
	storeOwner := profiles.StoreOwner(userID)
	profile, err := fetch[domain.Profile](ctx, t.backend, profiles.Name, storeOwner, userID)
	switch {
	case errors.Is(err, documents.ErrNotFound):
		if !create {
			return nil
		}
		created := change(domain.Profile{ID: userID, Role: domain.RolePlayer, TeamIDs: []string{}})
		payload, err := documents.EncodePayload(created)
		if err != nil {
			return err
		}
		return t.backend.Set(ctx, profiles.Name, storeOwner, userID, payload)
	case err != nil:
		return err
	}
	changed := change(profile)
	return t.backend.Update(ctx, profiles.Name, storeOwner, userID, map[string]any{"teamIds": changed.TeamIDs})
}
