package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTeam indicates that a team failed validation.
var ErrInvalidTeam = errors.New("domain: invalid team")

// Team is a shared group of users.
type Team struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

// Validate checks the team name.
func (t Team) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTeam)
	}
	return nil
}

// HasMember reports whether userID belongs to the team.
func (t Team) HasMember(userID string) bool {
	for _, member := range t.MemberIDs {
		if member == userID {
			return true
		}
	}
	return false
}

// WithMember returns a copy of the team that lists userID exactly once.
func (t Team) WithMember(userID string) Team {
	t.MemberIDs = addUnique(t.MemberIDs, userID)
	return t
}

// WithoutMember returns a copy of the team without userID.
func (t Team) WithoutMember(userID string) Team {
	t.MemberIDs = removeValue(t.MemberIDs, userID)
	return t
}
