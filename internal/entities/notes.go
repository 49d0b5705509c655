package entities

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
)

var (
	// ErrNotRecipient indicates an attempt to mark someone else's note as read.
	ErrNotRecipient = errors.New("entities: note is addressed to another user")
	// ErrNotParticipant indicates an attempt to delete a note the user neither sent nor received.
	ErrNotParticipant = errors.New("entities: note belongs to other users")
)

// NoteDraft is a note about to be sent by the signed-in user.
type NoteDraft struct {
	ReceiverID          string
	ReceiverDisplayName string
	SenderDisplayName   string
	NoteText            string
}

// Notes tracks the encouragement notes addressed to the signed-in user.
type Notes struct {
	*Hook[domain.EncouragementNote]
}

// NewNotes constructs the notes hook.
func NewNotes(opts Options) (*Notes, error) {
	collection, _ := domain.LookupCollection(domain.CollectionNotes)
	hook, err := newHook(Descriptor[domain.EncouragementNote]{
		Collection:       collection,
		CacheKeyTemplate: localstore.KeyUserNotes,
		Key:              func(note domain.EncouragementNote) string { return note.ID },
		Validate:         func(note domain.EncouragementNote) error { return note.Validate() },
		Filter: func(ownerID string, note domain.EncouragementNote) bool {
			return note.ReceiverID == ownerID
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Notes{Hook: hook}, nil
}

// Send stores an unread note from the signed-in user.
func (n *Notes) Send(ctx context.Context, draft NoteDraft) (string, error) {
	userID, _, err := n.scope()
	if err != nil {
		return "", err
	}
	note := domain.EncouragementNote{
		SenderID:            userID,
		ReceiverID:          strings.TrimSpace(draft.ReceiverID),
		SenderDisplayName:   draft.SenderDisplayName,
		ReceiverDisplayName: draft.ReceiverDisplayName,
		NoteText:            strings.TrimSpace(draft.NoteText),
		Read:                false,
		Timestamp:           n.clock().UTC(),
	}
	if err := note.Validate(); err != nil {
		return "", err
	}
	return n.add(ctx, note)
}

// MarkRead flips read to true. Notes that are already read are left untouched.
func (n *Notes) MarkRead(ctx context.Context, noteID string) error {
	userID, _, err := n.scope()
	if err != nil {
		return err
	}
	note, err := n.get(ctx, noteID)
	if err != nil {
		return err
	}
	if note.ReceiverID != userID {
		return ErrNotRecipient
	}
	if note.Read {
		return nil
	}
	return n.update(ctx, noteID, map[string]any{"read": true})
}

// Unread counts unread notes in the current state.
func (n *Notes) Unread() int {
	count := 0
	for _, note := range n.State().Data {
		if !note.Read {
			count++
		}
	}
	return count
}

// Delete removes a note. Only its sender or receiver may delete it.
func (n *Notes) Delete(ctx context.Context, noteID string) error {
	userID, _, err := n.scope()
	if err != nil {
		return err
	}
	note, err := n.get(ctx, noteID)
	if err != nil {
		return err
	}
	if !note.HasParticipant(userID) {
		return ErrNotParticipant
	}
	return n.remove(ctx, noteID)
}
