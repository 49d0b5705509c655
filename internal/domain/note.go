package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidNote indicates that an encouragement note failed validation.
var ErrInvalidNote = errors.New("domain: invalid encouragement note")

// EncouragementNote is a short message between teammates. Only Read ever changes.
type EncouragementNote struct {
	ID                  string    `json:"id"`
	SenderID            string    `json:"senderId"`
	ReceiverID          string    `json:"receiverId"`
	SenderDisplayName   string    `json:"senderDisplayName"`
	ReceiverDisplayName string    `json:"receiverDisplayName"`
	NoteText            string    `json:"noteText"`
	Read                bool      `json:"read"`
	Timestamp           time.Time `json:"timestamp"`
}

// Validate checks sender, receiver and text.
func (n EncouragementNote) Validate() error {
	if strings.TrimSpace(n.SenderID) == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidNote)
	}
	if strings.TrimSpace(n.ReceiverID) == "" {
		return fmt.Errorf("%w: empty receiver", ErrInvalidNote)
	}
	if strings.TrimSpace(n.NoteText) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidNote)
	}
	return nil
}

// HasParticipant reports whether userID sent or received the note.
func (n EncouragementNote) HasParticipant(userID string) bool {
	userID = strings.TrimSpace(userID)
	return userID != "" && (n.SenderID == userID || n.ReceiverID == userID)
}
