package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/config"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/database"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/entities"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/reconcile"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/remote"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type watchOptions struct {
	collection string
	serverURL  string
	token      string
	ownerID    string
}

type watchLine struct {
	Collection string          `json:"collection"`
	OwnerID    string          `json:"ownerId"`
	IsLoading  bool            `json:"isLoading"`
	Editing    map[string]bool `json:"editing,omitempty"`
	Data       any             `json:"data"`
}

func newWatchCommand() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live collection states from a server as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.collection, "collection", domain.CollectionDiscs, "Collection to watch")
	cmd.Flags().StringVar(&opts.serverURL, "server", "http://localhost:8080", "Base URL of the API server")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("FAIRWAY_TOKEN"), "Session token")
	cmd.Flags().StringVar(&opts.ownerID, "owner", "", "Expected user id; must match the token's user")
	return cmd
}

func runWatch(ctx context.Context, opts watchOptions, out io.Writer) error {
	appConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := remote.NewClient(remote.Config{BaseURL: opts.serverURL, Token: opts.token, Logger: logger})
	if err != nil {
		return err
	}
	ownerID, err := resolveWatchOwner(signalCtx, client, opts.ownerID)
	if err != nil {
		return err
	}

	cacheDB, err := database.OpenCache(appConfig.CachePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := cacheDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := localstore.New(localstore.Config{Database: cacheDB, Logger: logger})
	if err != nil {
		return err
	}

	hookOptions := entities.Options{Backend: client, Cache: store, Logger: logger}
	printer := &statePrinter{encoder: json.NewEncoder(out), collection: opts.collection, ownerID: ownerID, logger: logger}

	closeHook, err := openWatchedHook(opts.collection, hookOptions, ownerID, printer)
	if err != nil {
		return err
	}
	defer closeHook()

	<-signalCtx.Done()
	return nil
}

type currentUserResolver interface {
	CurrentUser(ctx context.Context) (auth.User, error)
}

// resolveWatchOwner returns the token's user id. The server scopes every collection to that
// user, so a requested owner must match it.
func resolveWatchOwner(ctx context.Context, client currentUserResolver, requested string) (string, error) {
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	requested = strings.TrimSpace(requested)
	if requested != "" && requested != user.ID {
		return "", fmt.Errorf("owner %q does not match the token user %q", requested, user.ID)
	}
	return user.ID, nil
}

func openWatchedHook(collection string, opts entities.Options, ownerID string, printer *statePrinter) (func(), error) {
	switch collection {
	case domain.CollectionCourses:
		courses, err := entities.NewCourses(opts)
		if err != nil {
			return nil, err
		}
		return watchHook(courses.Hook, ownerID, printer), nil
	case domain.CollectionDiscs:
		discs, err := entities.NewDiscs(opts)
		if err != nil {
			return nil, err
		}
		return watchHook(discs.Hook, ownerID, printer), nil
	case domain.CollectionRounds:
		rounds, err := entities.NewRounds(opts)
		if err != nil {
			return nil, err
		}
		return watchHook(rounds.Hook, ownerID, printer), nil
	case domain.CollectionProfiles:
		profiles, err := entities.NewProfiles(opts)
		if err != nil {
			return nil, err
		}
		return watchHook(profiles.Hook, ownerID, printer), nil
	case domain.CollectionTeams:
		teams, err := entities.NewTeams(opts)
		if err != nil {
			return nil, err
		}
		return watchHook(teams.Hook, ownerID, printer), nil
	case domain.CollectionNotes:
		notes, err := entities.NewNotes(opts)
		if err != nil {
			return nil, err
		}
		return watchHook(notes.Hook, ownerID, printer), nil
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}

func watchHook[T any](hook *entities.Hook[T], ownerID string, printer *statePrinter) func() {
	hook.OnChange(func(state reconcile.State[T]) {
		printer.print(state.IsLoading, state.Editing, state.Data)
	})
	hook.Open(ownerID)
	return hook.Close
}

type statePrinter struct {
	mu         sync.Mutex
	encoder    *json.Encoder
	collection string
	ownerID    string
	logger     *zap.Logger
}

func (p *statePrinter) print(isLoading bool, editing map[string]bool, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := watchLine{
		Collection: p.collection,
		OwnerID:    p.ownerID,
		IsLoading:  isLoading,
		Editing:    editing,
		Data:       data,
	}
	if err := p.encoder.Encode(line); err != nil {
		p.logger.Warn("failed to print state", zap.Error(err))
	}
}
