package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/database"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/entities"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/server"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "remote-test-secret"
	waitTimeout       = 5 * time.Second
)

type testStack struct {
	server    *httptest.Server
	documents *documents.Service
	database  *gorm.DB
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "fairway.db"), zap.NewNop())
	require.NoError(t, err)
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		IDProvider: documents.NewUUIDProvider(),
	})
	require.NoError(t, err)
	accounts, err := users.NewService(users.ServiceConfig{Database: db, HashCost: bcrypt.MinCost})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "fairway",
	})
	require.NoError(t, err)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "fairway",
		CookieName:    "fairway_session",
	})
	require.NoError(t, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Documents:    documentService,
		AuthProvider: users.NewProvider(accounts, issuer),
		Sessions:     validator,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testStack{server: srv, documents: documentService, database: db}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestStack(t).server
}

func newSignedInClient(t *testing.T, srv *httptest.Server, email string) (*Client, auth.Grant) {
	t.Helper()
	anonymous, err := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	grant, err := anonymous.SignUp(context.Background(), email, "correct-horse", "")
	require.NoError(t, err)
	return anonymous.WithToken(grant.Token), grant
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.ErrorIs(t, err, errMissingBaseURL)

	_, err = NewClient(Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)

	client, err := NewClient(Config{BaseURL: "https://fairway.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://fairway.example.com", client.baseURL.String())
}

func TestClientDocumentOperations(t *testing.T) {
	srv := newTestServer(t)
	client, grant := newSignedInClient(t, srv, "ace@example.com")
	ctx := context.Background()
	owner := grant.User.ID

	id, err := client.Add(ctx, domain.CollectionDiscs, owner, []byte(`{"name":"Destroyer","archived":false}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, client.Update(ctx, domain.CollectionDiscs, owner, id, map[string]any{"archived": true}))

	record, err := client.Get(ctx, domain.CollectionDiscs, owner, id)
	require.NoError(t, err)
	disc, err := documents.DecodeRecord[domain.Disc](record)
	require.NoError(t, err)
	assert.Equal(t, domain.Disc{ID: id, Name: "Destroyer", Archived: true}, disc)

	require.NoError(t, client.Set(ctx, domain.CollectionDiscs, owner, "fixed-id", []byte(`{"name":"Buzzz"}`)))
	records, err := client.List(ctx, domain.CollectionDiscs, owner)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, client.Delete(ctx, domain.CollectionDiscs, owner, id))
	_, err = client.Get(ctx, domain.CollectionDiscs, owner, id)
	require.ErrorIs(t, err, documents.ErrNotFound)

	var remoteErr *Error
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusNotFound, remoteErr.Status)
	assert.Equal(t, "documents.get.not_found", remoteErr.Code)
}

func TestClientRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = client.List(context.Background(), domain.CollectionDiscs, "u1")
	var remoteErr *Error
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusUnauthorized, remoteErr.Status)

	_, err = client.Subscribe(context.Background(), domain.CollectionDiscs, "u1", func([]documents.Record) {}, func(error) {})
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusUnauthorized, remoteErr.Status)
}

func TestClientDrivesSession(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	_, err = client.SignUp(context.Background(), "ace@example.com", "correct-horse", "Ace")
	require.NoError(t, err)

	session, err := auth.NewSession(auth.SessionConfig{Provider: client})
	require.NoError(t, err)

	_, err = session.SignIn(context.Background(), "ace@example.com", "wrong-password")
	var remoteErr *Error
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "invalid_credentials", remoteErr.Code)

	user, err := session.SignIn(context.Background(), "ace@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "Ace", user.DisplayName)
	assert.NotEmpty(t, session.Token())

	require.NoError(t, session.SignOut(context.Background()))
	assert.Nil(t, session.CurrentUser())
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	srv := newTestServer(t)
	client, grant := newSignedInClient(t, srv, "ace@example.com")
	ctx := context.Background()

	var (
		mu        sync.Mutex
		snapshots [][]documents.Record
	)
	unsubscribe, err := client.Subscribe(ctx, domain.CollectionRounds, grant.User.ID,
		func(records []documents.Record) {
			mu.Lock()
			snapshots = append(snapshots, records)
			mu.Unlock()
		},
		func(err error) {
			t.Errorf("unexpected stream error: %v", err)
		})
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) == 1
	}, waitTimeout, 10*time.Millisecond)

	_, err = client.Add(ctx, domain.CollectionRounds, grant.User.ID, []byte(`{"courseId":"c1"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) >= 2 && len(snapshots[len(snapshots)-1]) == 1
	}, waitTimeout, 10*time.Millisecond)
}

func TestSubscribeReportsServerFailureOnce(t *testing.T) {
	stack := newTestStack(t)
	client, grant := newSignedInClient(t, stack.server, "ace@example.com")

	var (
		mu        sync.Mutex
		snapshots int
	)
	failures := make(chan error, 2)
	unsubscribe, err := client.Subscribe(context.Background(), domain.CollectionDiscs, grant.User.ID,
		func([]documents.Record) {
			mu.Lock()
			snapshots++
			mu.Unlock()
		},
		func(err error) { failures <- err })
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return snapshots == 1
	}, waitTimeout, 10*time.Millisecond)

	sqlDB, err := stack.database.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	stack.documents.Dispatcher().Publish(documents.ChangeMessage{
		Topic:     documents.Topic{Collection: domain.CollectionDiscs, OwnerID: grant.User.ID},
		EventType: documents.ChangeEventWrite,
		Timestamp: time.Now(),
	})

	select {
	case err := <-failures:
		var remoteErr *Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, "documents.list.query_failed", remoteErr.Code)
	case <-time.After(waitTimeout):
		t.Fatal("expected the stream failure to be reported")
	}
	select {
	case err := <-failures:
		t.Fatalf("expected a single failure, got another: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, snapshots)
}

func TestEntityHookOverRemoteClient(t *testing.T) {
	srv := newTestServer(t)
	client, grant := newSignedInClient(t, srv, "ace@example.com")

	cache, err := database.OpenCache(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	store, err := localstore.New(localstore.Config{Database: cache})
	require.NoError(t, err)

	discs, err := entities.NewDiscs(entities.Options{Backend: client, Cache: store})
	require.NoError(t, err)
	defer discs.Close()
	discs.Open(grant.User.ID)

	_, err = discs.Add(context.Background(), domain.Disc{Name: "Firebird", Type: "fairway"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state := discs.State()
		return !state.IsLoading && len(state.Data) == 1 && state.Data[0].Name == "Firebird"
	}, waitTimeout, 10*time.Millisecond)

	cached, ok := localstore.Load[[]domain.Disc](store, localstore.KeyFor(localstore.KeyUserDiscs, grant.User.ID))
	require.True(t, ok)
	assert.Len(t, cached, 1)

}
