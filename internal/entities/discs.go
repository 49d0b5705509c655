package entities

import (
	"context"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
)

// Discs tracks the signed-in user's bag. Archiving is the only soft delete in the model.
type Discs struct {
	*Hook[domain.Disc]
}

// NewDiscs constructs the discs hook.
func NewDiscs(opts Options) (*Discs, error) {
	collection, _ := domain.LookupCollection(domain.CollectionDiscs)
	hook, err := newHook(Descriptor[domain.Disc]{
		Collection:       collection,
		CacheKeyTemplate: localstore.KeyUserDiscs,
		Key:              func(disc domain.Disc) string { return disc.ID },
		Validate:         func(disc domain.Disc) error { return disc.Validate() },
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Discs{Hook: hook}, nil
}

// Add validates and stores a new disc in the signed-in user's bag.
func (d *Discs) Add(ctx context.Context, disc domain.Disc) (string, error) {
	if err := disc.Validate(); err != nil {
		return "", err
	}
	return d.add(ctx, disc)
}

// Update merges fields into a disc.
func (d *Discs) Update(ctx context.Context, discID string, fields map[string]any) error {
	return d.update(ctx, discID, fields)
}

// Delete removes a disc permanently. Archive keeps it out of the bag instead.
func (d *Discs) Delete(ctx context.Context, discID string) error {
	return d.remove(ctx, discID)
}

// Archive soft-deletes a disc.
func (d *Discs) Archive(ctx context.Context, discID string) error {
	return d.update(ctx, discID, map[string]any{"archived": true})
}

// Restore returns an archived disc to the bag.
func (d *Discs) Restore(ctx context.Context, discID string) error {
	return d.update(ctx, discID, map[string]any{"archived": false})
}

// ActiveBag returns the discs of the current state that are not archived.
func (d *Discs) ActiveBag() []domain.Disc {
	return domain.ActiveBag(d.State().Data)
}
