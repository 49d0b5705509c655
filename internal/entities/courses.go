package entities

import (
	"context"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/domain"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/localstore"
)

// Courses tracks the signed-in user's courses and their holes. Courses and holes carry the
// transient editing flag.
type Courses struct {
	*Hook[domain.Course]
}

// NewCourses constructs the courses hook.
func NewCourses(opts Options) (*Courses, error) {
	collection, _ := domain.LookupCollection(domain.CollectionCourses)
	hook, err := newHook(Descriptor[domain.Course]{
		Collection:       collection,
		CacheKeyTemplate: localstore.KeyUserCourses,
		Transient:        true,
		Key:              func(course domain.Course) string { return course.ID },
		NestedKeys:       func(course domain.Course) []string { return course.HoleIDs() },
		Validate:         func(course domain.Course) error { return course.Validate() },
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Courses{Hook: hook}, nil
}

// Add creates a course and returns its id.
func (c *Courses) Add(ctx context.Context, course domain.Course) (string, error) {
	if course.Holes == nil {
		course.Holes = []domain.Hole{}
	}
	if err := course.Validate(); err != nil {
		return "", err
	}
	return c.add(ctx, course)
}

// Update merges fields into the course document.
func (c *Courses) Update(ctx context.Context, courseID string, fields map[string]any) error {
	return c.update(ctx, courseID, fields)
}

// Delete removes the course.
func (c *Courses) Delete(ctx context.Context, courseID string) error {
	return c.remove(ctx, courseID)
}

// AddHole appends a hole numbered after the current last hole.
func (c *Courses) AddHole(ctx context.Context, courseID string, par int) (domain.Hole, error) {
	course, err := c.get(ctx, courseID)
	if err != nil {
		return domain.Hole{}, err
	}
	hole, err := course.NextHole(courseID, par, c.clock())
	if err != nil {
		return domain.Hole{}, err
	}
	holes, err := course.AppendHole(hole)
	if err != nil {
		return domain.Hole{}, err
	}
	if err := c.writeHoles(ctx, courseID, holes); err != nil {
		return domain.Hole{}, err
	}
	return hole, nil
}

// UpdateHole replaces the hole sharing hole.ID.
func (c *Courses) UpdateHole(ctx context.Context, courseID string, hole domain.Hole) error {
	course, err := c.get(ctx, courseID)
	if err != nil {
		return err
	}
	holes, err := course.ReplaceHole(hole)
	if err != nil {
		return err
	}
	return c.writeHoles(ctx, courseID, holes)
}

// DeleteHole removes one hole from the course.
func (c *Courses) DeleteHole(ctx context.Context, courseID, holeID string) error {
	course, err := c.get(ctx, courseID)
	if err != nil {
		return err
	}
	holes, err := course.RemoveHole(holeID)
	if err != nil {
		return err
	}
	return c.writeHoles(ctx, courseID, holes)
}

// ReorderHoles moves the hole at position from to position to and renumbers all holes.
func (c *Courses) ReorderHoles(ctx context.Context, courseID string, from, to int) error {
	course, err := c.get(ctx, courseID)
	if err != nil {
		return err
	}
	holes, err := course.ReorderHoles(from, to)
	if err != nil {
		return err
	}
	return c.writeHoles(ctx, courseID, holes)
}

// SetEditing marks a course or hole as being edited. It reports false for unknown ids.
func (c *Courses) SetEditing(id string, editing bool) bool {
	return c.reconciler.SetEditing(id, editing)
}

func (c *Courses) writeHoles(ctx context.Context, courseID string, holes []domain.Hole) error {
	return c.update(ctx, courseID, map[string]any{"holes": holes})
}
