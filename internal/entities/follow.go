package entities

import "github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"

// AuthState is the part of auth.Session that hooks follow.
type AuthState interface {
	CurrentUser() *auth.User
	OnAuthStateChange(listener func(*auth.User)) func()
}

// Opener is implemented by every hook.
type Opener interface {
	Open(ownerID string)
}

// FollowAuth opens every hook for the current user now and again on each auth state change; a
// sign-out reopens them with an empty owner. The returned function stops following.
func FollowAuth(session AuthState, openers ...Opener) func() {
	apply := func(user *auth.User) {
		ownerID := ""
		if user != nil {
			ownerID = user.ID
		}
		for _, opener := range openers {
			opener.Open(ownerID)
		}
	}
	unsubscribe := session.OnAuthStateChange(apply)
	apply(session.CurrentUser())
	return unsubscribe
}
