package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCourse indicates that a course failed validation.
	ErrInvalidCourse = errors.New("domain: invalid course")
	// ErrInvalidHole indicates that a hole failed validation.
	ErrInvalidHole = errors.New("domain: invalid hole")
	// ErrHoleNotFound indicates that a hole id or position is not part of the course.
	ErrHoleNotFound = errors.New("domain: hole not found")
)

// Classification describes the overall character of a course.
type Classification string

const (
	ClassificationWooded     Classification = "wooded"
	ClassificationParkStyle  Classification = "park_style"
	ClassificationOpenBomber Classification = "open_bomber"
)

// Valid reports whether the classification is known. An empty classification is allowed.
func (c Classification) Valid() bool {
	switch c {
	case "", ClassificationWooded, ClassificationParkStyle, ClassificationOpenBomber:
		return true
	default:
		return false
	}
}

// Hole is one annotated hole of a course.
type Hole struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Par    int    `json:"par"`
	Note   string `json:"note,omitempty"`
	DiscID string `json:"discId,omitempty"`
}

// NewHole builds a hole whose id is derived from the course id and creation time.
func NewHole(courseID string, number, par int, createdAt time.Time) (Hole, error) {
	if strings.TrimSpace(courseID) == "" {
		return Hole{}, fmt.Errorf("%w: empty course id", ErrInvalidHole)
	}
	hole := Hole{
		ID:     NewHoleID(courseID, createdAt),
		Number: number,
		Par:    par,
	}
	if err := hole.Validate(); err != nil {
		return Hole{}, err
	}
	return hole, nil
}

// Validate checks the hole number and par.
func (h Hole) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidHole)
	}
	if h.Number <= 0 {
		return fmt.Errorf("%w: number must be positive, got %d", ErrInvalidHole, h.Number)
	}
	if h.Par <= 0 {
		return fmt.Errorf("%w: par must be positive, got %d", ErrInvalidHole, h.Par)
	}
	return nil
}

// Course is a user-annotated course with an ordered list of holes.
type Course struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	TournamentName string         `json:"tournamentName,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Holes          []Hole         `json:"holes"`
}

// Validate checks the course and every hole it carries.
func (c Course) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCourse)
	}
	if !c.Classification.Valid() {
		return fmt.Errorf("%w: unknown classification %q", ErrInvalidCourse, c.Classification)
	}
	seen := make(map[string]struct{}, len(c.Holes))
	for _, hole := range c.Holes {
		if err := hole.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCourse, err)
		}
		if _, duplicate := seen[hole.ID]; duplicate {
			return fmt.Errorf("%w: duplicate hole id %s", ErrInvalidCourse, hole.ID)
		}
		seen[hole.ID] = struct{}{}
	}
	return nil
}

// NextHole builds the hole that follows the current last hole. When another hole of the course
// already carries the id derived from createdAt, the timestamp moves forward one millisecond at
// a time until the id is free.
func (c Course) NextHole(courseID string, par int, createdAt time.Time) (Hole, error) {
	taken := make(map[string]struct{}, len(c.Holes))
	for _, hole := range c.Holes {
		taken[hole.ID] = struct{}{}
	}
	for {
		if _, exists := taken[NewHoleID(courseID, createdAt)]; !exists {
			break
		}
		createdAt = createdAt.Add(time.Millisecond)
	}
	return NewHole(courseID, len(c.Holes)+1, par, createdAt)
}

// HoleIDs lists the hole identifiers in display order.
func (c Course) HoleIDs() []string {
	ids := make([]string, 0, len(c.Holes))
	for _, hole := range c.Holes {
		ids = append(ids, hole.ID)
	}
	return ids
}

// HoleByNumber returns the hole carrying the given number.
func (c Course) HoleByNumber(number int) (Hole, bool) {
	for _, hole := range c.Holes {
		if hole.Number == number {
			return hole, true
		}
	}
	return Hole{}, false
}

// AppendHole returns a copy of the holes with hole appended.
func (c Course) AppendHole(hole Hole) ([]Hole, error) {
	if err := hole.Validate(); err != nil {
		return nil, err
	}
	for _, existing := range c.Holes {
		if existing.ID == hole.ID {
			return nil, fmt.Errorf("%w: duplicate hole id %s", ErrInvalidHole, hole.ID)
		}
	}
	holes := append(copyHoles(c.Holes), hole)
	return holes, nil
}

// ReplaceHole returns a copy of the holes with the hole sharing hole.ID replaced.
func (c Course) ReplaceHole(hole Hole) ([]Hole, error) {
	if err := hole.Validate(); err != nil {
		return nil, err
	}
	holes := copyHoles(c.Holes)
	for index := range holes {
		if holes[index].ID == hole.ID {
			holes[index] = hole
			return holes, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHoleNotFound, hole.ID)
}

// RemoveHole returns a copy of the holes without holeID.
func (c Course) RemoveHole(holeID string) ([]Hole, error) {
	holes := make([]Hole, 0, len(c.Holes))
	found := false
	for _, hole := range c.Holes {
		if hole.ID == holeID {
			found = true
			continue
		}
		holes = append(holes, hole)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrHoleNotFound, holeID)
	}
	return holes, nil
}

// ReorderHoles moves the hole at position from to position to and renumbers holes by position.
func (c Course) ReorderHoles(from, to int) ([]Hole, error) {
	if from < 0 || from >= len(c.Holes) || to < 0 || to >= len(c.Holes) {
		return nil, fmt.Errorf("%w: position %d -> %d out of range for %d holes", ErrHoleNotFound, from, to, len(c.Holes))
	}
	holes := copyHoles(c.Holes)
	moved := holes[from]
	holes = append(holes[:from], holes[from+1:]...)
	holes = append(holes[:to], append([]Hole{moved}, holes[to:]...)...)
	for index := range holes {
		holes[index].Number = index + 1
	}
	return holes, nil
}

func copyHoles(holes []Hole) []Hole {
	result := make([]Hole, len(holes))
	copy(result, holes)
	return result
}
