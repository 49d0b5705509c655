package entities

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/reconcile"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const waitTimeout = 2 * time.Second

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Millisecond)
	return c.current
}

type countingBackend struct {
	*documents.Service
	updates atomic.Int32
}

func (b *countingBackend) Update(ctx context.Context, collection, ownerID, documentID string, fields map[string]any) error {
	b.updates.Add(1)
	return b.Service.Update(ctx, collection, ownerID, documentID, fields)
}

type harness struct {
	service *documents.Service
	backend *countingBackend
	store   *localstore.Store
	opts    Options
}

func openDatabase(t *testing.T, name string, models ...any) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &steppingClock{current: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	service, err := documents.NewService(documents.ServiceConfig{
		Database:   openDatabase(t, "documents.db", &documents.Document{}),
		Clock:      clock.Now,
		IDProvider: documents.NewUUIDProvider(),
	})
	require.NoError(t, err)
	store, err := localstore.New(localstore.Config{Database: openDatabase(t, "cache.db", &localstore.Entry{})})
	require.NoError(t, err)
	backend := &countingBackend{Service: service}
	return &harness{
		service: service,
		backend: backend,
		store:   store,
		opts:    Options{Backend: backend, Cache: store, Clock: clock.Now},
	}
}

func waitForState[T any](t *testing.T, hook *Hook[T], condition func(reconcile.State[T]) bool) reconcile.State[T] {
	t.Helper()
	var last reconcile.State[T]
	require.Eventually(t, func() bool {
		last = hook.State()
		return condition(last)
	}, waitTimeout, 10*time.Millisecond)
	return last
}

func TestNewHookRequiresBackend(t *testing.T) {
	_, err := NewDiscs(Options{})
	require.Error(t, err)
}

func TestDiscsSeededFromCacheThenReconciled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.Set(ctx, domain.CollectionDiscs, "u1", "d1", []byte(`{"name":"Destroyer"}`)))
	require.NoError(t, h.service.Set(ctx, domain.CollectionDiscs, "u1", "d2", []byte(`{"name":"Buzzz"}`)))
	require.NoError(t, h.store.SetCache("userDiscs-u1", []domain.Disc{{ID: "d1", Name: "Destroyer"}}))

	discs, err := NewDiscs(h.opts)
	require.NoError(t, err)
	defer discs.Close()

	var (
		mu        sync.Mutex
		delivered []reconcile.State[domain.Disc]
	)
	discs.OnChange(func(state reconcile.State[domain.Disc]) {
		mu.Lock()
		delivered = append(delivered, state)
		mu.Unlock()
	})
	discs.Open("u1")

	mu.Lock()
	require.NotEmpty(t, delivered)
	seeded := delivered[0]
	mu.Unlock()
	assert.False(t, seeded.IsLoading)
	require.Len(t, seeded.Data, 1)
	assert.Equal(t, "d1", seeded.Data[0].ID)

	state := waitForState(t, discs.Hook, func(state reconcile.State[domain.Disc]) bool {
		return len(state.Data) == 2
	})
	assert.False(t, state.IsLoading)

	cached, ok := localstore.Load[[]domain.Disc](h.store, "userDiscs-u1")
	require.True(t, ok)
	assert.Len(t, cached, 2)
}

func TestHookWithoutOwnerIsEmptyAndRejectsMutations(t *testing.T) {
	h := newHarness(t)
	discs, err := NewDiscs(h.opts)
	require.NoError(t, err)
	defer discs.Close()

	discs.Open("")
	state := discs.State()
	assert.Empty(t, state.Data)
	assert.False(t, state.IsLoading)

	_, err = discs.Add(context.Background(), domain.Disc{Name: "Envy"})
	assert.ErrorIs(t, err, ErrNoOwner)
}

func TestDiscsArchiveRestoreAndActiveBag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	discs, err := NewDiscs(h.opts)
	require.NoError(t, err)
	defer discs.Close()
	discs.Open("u1")

	firstID, err := discs.Add(ctx, domain.Disc{Name: "Envy", Manufacturer: "Axiom"})
	require.NoError(t, err)
	_, err = discs.Add(ctx, domain.Disc{Name: "Hex", Manufacturer: "MVP"})
	require.NoError(t, err)
	_, err = discs.Add(ctx, domain.Disc{})
	require.ErrorIs(t, err, domain.ErrInvalidDisc)

	require.NoError(t, discs.Archive(ctx, firstID))
	waitForState(t, discs.Hook, func(state reconcile.State[domain.Disc]) bool {
		return len(state.Data) == 2 && len(discs.ActiveBag()) == 1
	})
	assert.Equal(t, "Hex", discs.ActiveBag()[0].Name)

	require.NoError(t, discs.Restore(ctx, firstID))
	waitForState(t, discs.Hook, func(reconcile.State[domain.Disc]) bool {
		return len(discs.ActiveBag()) == 2
	})

	require.NoError(t, discs.Delete(ctx, firstID))
	waitForState(t, discs.Hook, func(state reconcile.State[domain.Disc]) bool {
		return len(state.Data) == 1
	})
	assert.ErrorIs(t, discs.Delete(ctx, firstID), documents.ErrNotFound)
}

func TestCoursesHoleEditsAndTransientFlags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	courses, err := NewCourses(h.opts)
	require.NoError(t, err)
	defer courses.Close()
	courses.Open("u1")

	courseID, err := courses.Add(ctx, domain.Course{Name: "Maple Hill", Classification: domain.ClassificationWooded})
	require.NoError(t, err)

	first, err := courses.AddHole(ctx, courseID, 3)
	require.NoError(t, err)
	second, err := courses.AddHole(ctx, courseID, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 2, second.Number)
	assert.NotEqual(t, first.ID, second.ID)

	waitForState(t, courses.Hook, func(state reconcile.State[domain.Course]) bool {
		return len(state.Data) == 1 && len(state.Data[0].Holes) == 2
	})
	require.True(t, courses.SetEditing(second.ID, true))
	require.False(t, courses.SetEditing("unknown", true))

	require.NoError(t, courses.ReorderHoles(ctx, courseID, 1, 0))
	state := waitForState(t, courses.Hook, func(state reconcile.State[domain.Course]) bool {
		return len(state.Data) == 1 && len(state.Data[0].Holes) == 2 && state.Data[0].Holes[0].ID == second.ID
	})
	assert.Equal(t, 1, state.Data[0].Holes[0].Number)
	assert.Equal(t, 2, state.Data[0].Holes[1].Number)
	assert.True(t, state.IsEditing(second.ID), "flag survives while the hole is present")

	renamed := state.Data[0].Holes[1]
	renamed.Note = "big hyzer"
	require.NoError(t, courses.UpdateHole(ctx, courseID, renamed))

	require.NoError(t, courses.DeleteHole(ctx, courseID, second.ID))
	state = waitForState(t, courses.Hook, func(state reconcile.State[domain.Course]) bool {
		return len(state.Data) == 1 && len(state.Data[0].Holes) == 1
	})
	assert.False(t, state.IsEditing(second.ID), "flag dropped with the hole")
	assert.Equal(t, "big hyzer", state.Data[0].Holes[0].Note)

	err = courses.DeleteHole(ctx, courseID, second.ID)
	assert.ErrorIs(t, err, domain.ErrHoleNotFound)

	require.NoError(t, courses.Update(ctx, courseID, map[string]any{"tournamentName": "Spring Open"}))
	require.NoError(t, courses.Delete(ctx, courseID))
	waitForState(t, courses.Hook, func(state reconcile.State[domain.Course]) bool {
		return len(state.Data) == 0
	})
}

func TestCoursesAddHoleWithFrozenClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	frozen := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	opts := h.opts
	opts.Clock = func() time.Time { return frozen }

	courses, err := NewCourses(opts)
	require.NoError(t, err)
	defer courses.Close()
	courses.Open("u1")

	courseID, err := courses.Add(ctx, domain.Course{Name: "Quick Loop", Classification: domain.ClassificationParkStyle})
	require.NoError(t, err)

	ids := make(map[string]struct{})
	for i := 1; i <= 18; i++ {
		hole, err := courses.AddHole(ctx, courseID, 3)
		require.NoError(t, err)
		assert.Equal(t, i, hole.Number)
		ids[hole.ID] = struct{}{}
	}
	assert.Len(t, ids, 18)

	waitForState(t, courses.Hook, func(state reconcile.State[domain.Course]) bool {
		return len(state.Data) == 1 && len(state.Data[0].Holes) == 18
	})
}

func TestRoundsAddDerivesTotals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.service.Set(ctx, domain.CollectionCourses, "u1", "c1", []byte(
		`{"name":"Maple Hill","holes":[{"id":"c1-1","number":1,"par":3},{"id":"c1-2","number":2,"par":4}]}`)))

	rounds, err := NewRounds(h.opts)
	require.NoError(t, err)
	defer rounds.Close()
	rounds.Open("u1")

	roundID, err := rounds.Add(ctx, RoundDraft{
		CourseID:  "c1",
		Date:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Scores:    map[int]int{1: 2, 2: 5},
		RoundType: domain.RoundTypeLeague,
	})
	require.NoError(t, err)

	state := waitForState(t, rounds.Hook, func(state reconcile.State[domain.Round]) bool {
		return len(state.Data) == 1
	})
	round := state.Data[0]
	assert.Equal(t, roundID, round.ID)
	assert.Equal(t, "Maple Hill", round.CourseName)
	assert.Equal(t, 7, round.TotalScore)
	assert.Equal(t, 0, round.ScoreToPar)

	require.NoError(t, rounds.UpdateScores(ctx, roundID, map[int]int{1: 3, 2: 4}))
	state = waitForState(t, rounds.Hook, func(state reconcile.State[domain.Round]) bool {
		return len(state.Data) == 1 && state.Data[0].Scores[1] == 3
	})
	assert.Equal(t, 7, state.Data[0].TotalScore)

	_, err = rounds.Add(ctx, RoundDraft{CourseID: "missing", Scores: map[int]int{1: 3}})
	assert.ErrorIs(t, err, documents.ErrNotFound)
}

func TestTeamsJoinAndLeaveKeepProfileInStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	teams, err := NewTeams(h.opts)
	require.NoError(t, err)
	defer teams.Close()
	teams.Open("u1")

	teamID, err := teams.Add(ctx, "Chain Gang")
	require.NoError(t, err)
	require.NoError(t, teams.Join(ctx, teamID))
	require.NoError(t, teams.Join(ctx, teamID))

	team := waitForState(t, teams.Hook, func(state reconcile.State[domain.Team]) bool {
		return len(state.Data) == 1 && state.Data[0].HasMember("u1")
	}).Data[0]
	assert.Equal(t, []string{"u1"}, team.MemberIDs)

	record, err := h.service.Get(ctx, domain.CollectionProfiles, "u1", "u1")
	require.NoError(t, err)
	profile, err := documents.DecodeRecord[domain.Profile](record)
	require.NoError(t, err)
	assert.Equal(t, []string{teamID}, profile.TeamIDs)
	assert.Equal(t, domain.RolePlayer, profile.Role)

	require.NoError(t, teams.Rename(ctx, teamID, "Chain Gang II"))
	require.NoError(t, teams.Leave(ctx, teamID))
	team = waitForState(t, teams.Hook, func(state reconcile.State[domain.Team]) bool {
		return len(state.Data) == 1 && !state.Data[0].HasMember("u1")
	}).Data[0]
	assert.Equal(t, "Chain Gang II", team.Name)

	record, err = h.service.Get(ctx, domain.CollectionProfiles, "u1", "u1")
	require.NoError(t, err)
	profile, err = documents.DecodeRecord[domain.Profile](record)
	require.NoError(t, err)
	assert.Empty(t, profile.TeamIDs)

	cached, ok := localstore.Load[[]domain.Team](h.store, localstore.KeyAllTeams)
	require.True(t, ok)
	assert.Len(t, cached, 1)

	require.NoError(t, teams.Delete(ctx, teamID))
	waitForState(t, teams.Hook, func(state reconcile.State[domain.Team]) bool {
		return len(state.Data) == 0
	})
}

func TestNotesFilteredToReceiverAndReadOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inbox, err := NewNotes(h.opts)
	require.NoError(t, err)
	defer inbox.Close()
	inbox.Open("u1")

	outbox, err := NewNotes(h.opts)
	require.NoError(t, err)
	defer outbox.Close()
	outbox.Open("u2")

	noteID, err := outbox.Send(ctx, NoteDraft{ReceiverID: "u1", NoteText: "Nice putt!", SenderDisplayName: "Bo"})
	require.NoError(t, err)
	_, err = inbox.Send(ctx, NoteDraft{ReceiverID: "u2", NoteText: "Thanks!"})
	require.NoError(t, err)
	_, err = inbox.Send(ctx, NoteDraft{ReceiverID: "u2", NoteText: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidNote)

	state := waitForState(t, inbox.Hook, func(state reconcile.State[domain.EncouragementNote]) bool {
		return len(state.Data) == 1
	})
	assert.Equal(t, "u2", state.Data[0].SenderID)
	assert.Equal(t, 1, inbox.Unread())

	assert.ErrorIs(t, outbox.MarkRead(ctx, noteID), ErrNotRecipient)

	before := h.backend.updates.Load()
	require.NoError(t, inbox.MarkRead(ctx, noteID))
	require.NoError(t, inbox.MarkRead(ctx, noteID))
	assert.Equal(t, before+1, h.backend.updates.Load(), "second MarkRead writes nothing")

	waitForState(t, inbox.Hook, func(state reconcile.State[domain.EncouragementNote]) bool {
		return len(state.Data) == 1 && state.Data[0].Read
	})
	assert.Equal(t, 0, inbox.Unread())

	cached, ok := localstore.Load[[]domain.EncouragementNote](h.store, "userNotes-u1")
	require.True(t, ok)
	assert.Len(t, cached, 1)

	require.NoError(t, inbox.Delete(ctx, noteID))
	waitForState(t, inbox.Hook, func(state reconcile.State[domain.EncouragementNote]) bool {
		return len(state.Data) == 0
	})
}

func TestNotesDeleteRestrictedToParticipants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sender, err := NewNotes(h.opts)
	require.NoError(t, err)
	defer sender.Close()
	sender.Open("u2")

	stranger, err := NewNotes(h.opts)
	require.NoError(t, err)
	defer stranger.Close()
	stranger.Open("u3")

	noteID, err := sender.Send(ctx, NoteDraft{ReceiverID: "u1", NoteText: "Great drive"})
	require.NoError(t, err)

	assert.ErrorIs(t, stranger.Delete(ctx, noteID), ErrNotParticipant)
	_, err = h.service.Get(ctx, domain.CollectionNotes, string(domain.SharedOwner), noteID)
	require.NoError(t, err, "note survives a stranger's delete")

	require.NoError(t, sender.Delete(ctx, noteID))
	_, err = h.service.Get(ctx, domain.CollectionNotes, string(domain.SharedOwner), noteID)
	assert.ErrorIs(t, err, documents.ErrNotFound)
}

func TestProfilesSaveAndUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profiles, err := NewProfiles(h.opts)
	require.NoError(t, err)
	defer profiles.Close()
	profiles.Open("u1")

	_, ok := profiles.Current()
	assert.False(t, ok)

	require.NoError(t, profiles.Save(ctx, domain.Profile{DisplayName: "Ava", Email: "ava@example.com"}))
	waitForState(t, profiles.Hook, func(state reconcile.State[domain.Profile]) bool {
		return len(state.Data) == 1
	})
	profile, ok := profiles.Current()
	require.True(t, ok)
	assert.Equal(t, "u1", profile.ID)
	assert.Equal(t, domain.RolePlayer, profile.Role)

	require.NoError(t, profiles.Update(ctx, map[string]any{"role": domain.RoleNonPlayer}))
	waitForState(t, profiles.Hook, func(state reconcile.State[domain.Profile]) bool {
		return len(state.Data) == 1 && state.Data[0].Role == domain.RoleNonPlayer
	})

	assert.ErrorIs(t, profiles.Save(ctx, domain.Profile{Role: "coach"}), domain.ErrInvalidProfile)
}

type stubProvider struct{}

func (stubProvider) SignUp(ctx context.Context, email, _, displayName string) (auth.Grant, error) {
	return auth.Grant{}, errors.New("not supported")
}

func (stubProvider) SignIn(_ context.Context, email, _ string) (auth.Grant, error) {
	return auth.Grant{Token: "token-" + email, User: auth.User{ID: email}}, nil
}

func (stubProvider) SignOut(context.Context, string) error {
	return nil
}

func TestFollowAuthReopensHooks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.service.Set(ctx, domain.CollectionDiscs, "u1", "d1", []byte(`{"name":"Destroyer"}`)))
	require.NoError(t, h.service.Set(ctx, domain.CollectionDiscs, "u2", "d2", []byte(`{"name":"Buzzz"}`)))

	session, err := auth.NewSession(auth.SessionConfig{Provider: stubProvider{}})
	require.NoError(t, err)
	discs, err := NewDiscs(h.opts)
	require.NoError(t, err)
	defer discs.Close()

	stop := FollowAuth(session, discs)
	defer stop()
	assert.Equal(t, "", discs.OwnerID())

	_, err = session.SignIn(ctx, "u1", "pw")
	require.NoError(t, err)
	waitForState(t, discs.Hook, func(state reconcile.State[domain.Disc]) bool {
		return len(state.Data) == 1 && state.Data[0].ID == "d1"
	})

	_, err = session.SignIn(ctx, "u2", "pw")
	require.NoError(t, err)
	waitForState(t, discs.Hook, func(state reconcile.State[domain.Disc]) bool {
		return len(state.Data) == 1 && state.Data[0].ID == "d2"
	})

	require.NoError(t, session.SignOut(ctx))
	state := discs.State()
	assert.Equal(t, "", discs.OwnerID())
	assert.Empty(t, state.Data)
	assert.False(t, state.IsLoading)
}
