package domain

// Collection names used by the document store.
const (
	CollectionCourses  = "courses"
	CollectionDiscs    = "discs"
	CollectionRounds   = "rounds"
	CollectionProfiles = "profiles"
	CollectionTeams    = "teams"
	CollectionNotes    = "notes"
)

// Collection describes where documents of one collection live.
type Collection struct {
	Name string
	// Shared collections are stored under SharedOwner instead of the signed-in user.
	Shared bool
}

var knownCollections = map[string]Collection{
	CollectionCourses:  {Name: CollectionCourses},
	CollectionDiscs:    {Name: CollectionDiscs},
	CollectionRounds:   {Name: CollectionRounds},
	CollectionProfiles: {Name: CollectionProfiles},
	CollectionTeams:    {Name: CollectionTeams, Shared: true},
	CollectionNotes:    {Name: CollectionNotes, Shared: true},
}

// LookupCollection resolves a collection name.
func LookupCollection(name string) (Collection, bool) {
	collection, ok := knownCollections[name]
	return collection, ok
}

// StoreOwner returns the namespace that holds the documents of userID in this collection.
func (c Collection) StoreOwner(userID string) string {
	if c.Shared {
		return SharedOwner.String()
	}
	return userID
}
