package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDisc indicates that a disc failed validation.
var ErrInvalidDisc = errors.New("domain: invalid disc")

// Disc is one disc in a user's bag. Flight numbers are nullable.
type Disc struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Type         string   `json:"type"`
	Speed        *float64 `json:"speed"`
	Glide        *float64 `json:"glide"`
	Turn         *float64 `json:"turn"`
	Fade         *float64 `json:"fade"`
	Color        string   `json:"color,omitempty"`
	Plastic      string   `json:"plastic,omitempty"`
	Archived     bool     `json:"archived"`
}

// Validate checks the required disc fields.
func (d Disc) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDisc)
	}
	return nil
}

// ActiveBag returns the discs that are not archived, preserving order.
func ActiveBag(discs []Disc) []Disc {
	active := make([]Disc, 0, len(discs))
	for _, disc := range discs {
		if !disc.Archived {
			active = append(active, disc)
		}
	}
	return active
}
