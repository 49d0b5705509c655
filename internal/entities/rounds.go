package entities

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
)

// RoundDraft is the user input for a new round; totals are derived from the course.
type RoundDraft struct {
	CourseID  string
	Date      time.Time
	Scores    map[int]int
	Rating    *int
	RoundType domain.RoundType
	Notes     string
}

// Rounds tracks the signed-in user's logged rounds.
type Rounds struct {
	*Hook[domain.Round]
}

// NewRounds constructs the rounds hook.
func NewRounds(opts Options) (*Rounds, error) {
	collection, _ := domain.LookupCollection(domain.CollectionRounds)
	hook, err := newHook(Descriptor[domain.Round]{
		Collection:       collection,
		CacheKeyTemplate: localstore.KeyUserRounds,
		Key:              func(round domain.Round) string { return round.ID },
		Validate:         func(round domain.Round) error { return round.Validate() },
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Rounds{Hook: hook}, nil
}

// Add loads the course, derives the totals and stores the round.
func (r *Rounds) Add(ctx context.Context, draft RoundDraft) (string, error) {
	course, err := r.course(ctx, draft.CourseID)
	if err != nil {
		return "", err
	}
	round, err := domain.NewRound(course, draft.Date, draft.Scores)
	if err != nil {
		return "", err
	}
	round.Rating = draft.Rating
	round.RoundType = draft.RoundType
	round.Notes = draft.Notes
	if err := round.Validate(); err != nil {
		return "", err
	}
	return r.add(ctx, round)
}

// UpdateScores replaces the scores of a round and recomputes its totals.
func (r *Rounds) UpdateScores(ctx context.Context, roundID string, scores map[int]int) error {
	round, err := r.get(ctx, roundID)
	if err != nil {
		return err
	}
	course, err := r.course(ctx, round.CourseID)
	if err != nil {
		return err
	}
	rescored, err := domain.NewRound(course, round.Date, scores)
	if err != nil {
		return err
	}
	return r.update(ctx, roundID, map[string]any{
		"scores":     rescored.Scores,
		"totalScore": rescored.TotalScore,
		"scoreToPar": rescored.ScoreToPar,
	})
}

// Update merges fields that do not affect the derived totals.
func (r *Rounds) Update(ctx context.Context, roundID string, fields map[string]any) error {
	return r.update(ctx, roundID, fields)
}

func (r *Rounds) Delete(ctx context.Context, roundID string) error {
	return r.remove(ctx, roundID)
}

func (r *Rounds) course(ctx context.Context, courseID string) (domain.Course, error) {
	userID, _, err := r.scope()
	if err != nil {
		return domain.Course{}, err
	}
	courses, _ := domain.LookupCollection(domain.CollectionCourses)
	course, err := fetch[domain.Course](ctx, r.backend, courses.Name, courses.StoreOwner(userID), courseID)
	if err != nil {
		return domain.Course{}, err
	}
	return course, nil
}
