package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidProfile indicates that a user profile failed validation.
var ErrInvalidProfile = errors.New("domain: invalid profile")

// Role enumerates the roles a user profile may carry.
type Role string

const (
	// RoleAdmin grants administrative access to shared data.
	RoleAdmin Role = "admin"
	// RolePlayer is the default role for new profiles.
	RolePlayer Role = "player"
	// RoleNonPlayer marks supporters who do not log rounds.
	RoleNonPlayer Role = "non-player"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePlayer, RoleNonPlayer:
		return true
	default:
		return false
	}
}

// Profile is the per-user document stored under the user's own namespace.
type Profile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	TeamIDs     []string `json:"teamIds"`
}

// UnmarshalJSON decodes a profile and applies the default role when the document has none.
func (p *Profile) UnmarshalJSON(data []byte) error {
	type rawProfile Profile
	var decoded rawProfile
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if strings.TrimSpace(string(decoded.Role)) == "" {
		decoded.Role = RolePlayer
	}
	*p = Profile(decoded)
	return nil
}

// Validate checks the persisted fields of the profile.
func (p Profile) Validate() error {
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidProfile, p.Role)
	}
	return nil
}

// WithTeam returns a copy of the profile that lists teamID exactly once.
func (p Profile) WithTeam(teamID string) Profile {
	p.TeamIDs = addUnique(p.TeamIDs, teamID)
	return p
}

// WithoutTeam returns a copy of the profile without teamID.
func (p Profile) WithoutTeam(teamID string) Profile {
	p.TeamIDs = removeValue(p.TeamIDs, teamID)
	return p
}

func addUnique(values []string, value string) []string {
	result := make([]string, 0, len(values)+1)
	result = append(result, values...)
	for _, existing := range values {
		if existing == value {
			return result
		}
	}
	return append(result, value)
}

func removeValue(values []string, value string) []string {
	result := make([]string, 0, len(values))
	for _, existing := range values {
		if existing != value {
			result = append(result, existing)
		}
	}
	return result
}
