package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRound indicates that a round failed validation.
var ErrInvalidRound = errors.New("domain: invalid round")

// RoundType distinguishes competitive rounds from casual ones.
type RoundType string

const (
	RoundTypeTournament RoundType = "tournament"
	RoundTypeLeague     RoundType = "league"
)

// Valid reports whether the round type is known. An empty type marks a casual round.
func (t RoundType) Valid() bool {
	switch t {
	case "", RoundTypeTournament, RoundTypeLeague:
		return true
	default:
		return false
	}
}

// Round is a logged round. CourseName is a snapshot taken when the round was written.
type Round struct {
	ID         string      `json:"id"`
	CourseID   string      `json:"courseId"`
	CourseName string      `json:"courseName"`
	Date       time.Time   `json:"date"`
	Scores     map[int]int `json:"scores"`
	TotalScore int         `json:"totalScore"`
	ScoreToPar int         `json:"scoreToPar"`
	Rating     *int        `json:"rating,omitempty"`
	RoundType  RoundType   `json:"roundType,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}

// Validate checks the persisted round fields.
func (r Round) Validate() error {
	if strings.TrimSpace(r.CourseID) == "" {
		return fmt.Errorf("%w: empty course id", ErrInvalidRound)
	}
	if !r.RoundType.Valid() {
		return fmt.Errorf("%w: unknown round type %q", ErrInvalidRound, r.RoundType)
	}
	for number, strokes := range r.Scores {
		if strokes <= 0 {
			return fmt.Errorf("%w: hole %d has %d strokes", ErrInvalidRound, number, strokes)
		}
	}
	return nil
}

// ScoreRound derives the total and the score relative to par for the scored holes of course.
func ScoreRound(course Course, scores map[int]int) (int, int, error) {
	total := 0
	par := 0
	for number, strokes := range scores {
		if strokes <= 0 {
			return 0, 0, fmt.Errorf("%w: hole %d has %d strokes", ErrInvalidRound, number, strokes)
		}
		hole, ok := course.HoleByNumber(number)
		if !ok {
			return 0, 0, fmt.Errorf("%w: hole %d is not on course %s", ErrInvalidRound, number, course.ID)
		}
		total += strokes
		par += hole.Par
	}
	return total, total - par, nil
}

// NewRound builds a round for course, snapshotting the course name and deriving the totals.
func NewRound(course Course, date time.Time, scores map[int]int) (Round, error) {
	if strings.TrimSpace(course.ID) == "" {
		return Round{}, fmt.Errorf("%w: empty course id", ErrInvalidRound)
	}
	if len(scores) == 0 {
		return Round{}, fmt.Errorf("%w: no scores", ErrInvalidRound)
	}
	total, toPar, err := ScoreRound(course, scores)
	if err != nil {
		return Round{}, err
	}
	copied := make(map[int]int, len(scores))
	for number, strokes := range scores {
		copied[number] = strokes
	}
	return Round{
		CourseID:   course.ID,
		CourseName: course.Name,
		Date:       date.UTC(),
		Scores:     copied,
		TotalScore: total,
		ScoreToPar: toPar,
	}, nil
}
