package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

// SharedOwner is the namespace that holds documents visible to every signed-in user.
const SharedOwner OwnerID = "public"

var (
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("domain: invalid owner id")
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("domain: invalid document id")
)

// OwnerID represents a validated owner identifier (a user id or the shared namespace).
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOwnerID, err)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed, err := validateIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocumentID, err)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// NewHoleID derives a hole identifier that is unique within its course.
func NewHoleID(courseID string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%d", strings.TrimSpace(courseID), createdAt.UnixMilli())
}

func validateIdentifier(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", errors.New("empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("exceeds %d characters", maxIdentifierLength)
	}
	return trimmed, nil
}
