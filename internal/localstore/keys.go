package localstore

import "strings"

// Fixed key templates. The {uid} placeholder is replaced by the owning user id.
const (
	KeyUserCourses = "userCourses-{uid}"
	KeyUserDiscs   = "userDiscs-{uid}"
	KeyUserRounds  = "userRounds-{uid}"
	KeyUserProfile = "userProfile-{uid}"
	KeyUserNotes   = "userNotes-{uid}"
	KeyAllTeams    = "allTeams"
	KeyAPIDiscs    = "apiDiscs"
)

// KeyFor expands template for ownerID. Templates without a placeholder are returned unchanged.
func KeyFor(template, ownerID string) string {
	return strings.ReplaceAll(template, "{uid}", ownerID)
}
