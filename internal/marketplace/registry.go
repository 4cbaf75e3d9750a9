package marketplace

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/store"
)

// CourseInput carries the creator-editable fields of a course
type CourseInput struct {
	Price decimal.Decimal
	models.CourseMeta
	// IsActive relists or delists on update; nil leaves it unchanged
	IsActive *bool
}

// CreateCourseResult is the outcome of CreateCourse
type CreateCourseResult struct {
	Course *models.Course
	Reward *models.RewardOutcome
}

func validInput(in CourseInput) access.Check {
	return func() error {
		switch {
		case !in.Price.IsPositive() || !wholeAmount(in.Price):
			return ErrInvalidPrice
		case strings.TrimSpace(in.Title) == "":
			return ErrMissingTitle
		case strings.TrimSpace(in.ContentHash) == "":
			return ErrMissingContent
		}
		return nil
	}
}

// CreateCourse lists a new course owned by creator.
func (m *Market) CreateCourse(ctx context.Context, creator models.Address, in CourseInput) (res *CreateCourseResult, err error) {
	defer monitoring.ObserveLedgerOp(Source, "create_course", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := access.Require(m.gate.WhenNotPaused(), access.ValidCaller(creator), validInput(in)); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	id := m.meta.NextCourseID
	course := &models.Course{
		ID:           id,
		Creator:      creator,
		Price:        in.Price,
		CourseMeta:   in.CourseMeta,
		IsActive:     true,
		TotalRevenue: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	j := store.NewJournal()
	next := m.meta
	next.NextCourseID++
	m.setMeta(j, next)
	m.courses[id] = course
	j.OnRollback(func() { delete(m.courses, id) })
	m.stageCourse(j, id)
	if err := m.apply(ctx, j, nil); err != nil {
		return nil, err
	}

	monitoring.RecordCourseCreated()
	m.publish(ctx, m.event(models.EventCourseCreated, map[string]string{
		"course_id": strconv.FormatUint(id, 10),
		"creator":   creator.String(),
		"price":     in.Price.String(),
		"title":     in.Title,
	}))
	res = &CreateCourseResult{Course: course.Clone()}
	release()

	res.Reward = m.reward(ctx, models.ContentRewardKey(id), creator, func(r RewardHooks) (*models.RewardGrant, error) {
		return r.RewardContentCreation(ctx, m.addr, creator, id)
	})
	return res, nil
}

// UpdateCourse changes a course's price, descriptive fields and, when
// in.IsActive is set, its listing state. Creator only.
func (m *Market) UpdateCourse(ctx context.Context, caller models.Address, id uint64, in CourseInput) (course *models.Course, err error) {
	defer monitoring.ObserveLedgerOp(Source, "update_course", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var c *models.Course
	err = access.Require(
		m.gate.WhenNotPaused(),
		access.ValidCaller(caller),
		m.courseExists(id, &c),
		access.FailIf(func() bool { return !access.IsCreatorOf(c, caller) }, ErrNotCreator),
		validInput(in),
	)
	if err != nil {
		return nil, err
	}

	j := store.NewJournal()
	m.touchCourse(j, c)
	c.Price = in.Price
	c.CourseMeta = in.CourseMeta
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	c.UpdatedAt = m.now().UTC()
	if err := m.apply(ctx, j, nil); err != nil {
		return nil, err
	}

	m.publish(ctx, m.event(models.EventCourseUpdated, map[string]string{
		"course_id": strconv.FormatUint(id, 10),
		"price":     c.Price.String(),
		"is_active": strconv.FormatBool(c.IsActive),
	}))
	return c.Clone(), nil
}

// DelistCourse deactivates a course. The creator or an admin may delist;
// delisting an inactive course succeeds without effect.
func (m *Market) DelistCourse(ctx context.Context, caller models.Address, id uint64) (course *models.Course, err error) {
	defer monitoring.ObserveLedgerOp(Source, "delist_course", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var c *models.Course
	err = access.Require(
		m.gate.WhenNotPaused(),
		access.ValidCaller(caller),
		m.courseExists(id, &c),
		access.FailIf(func() bool {
			return !access.IsCreatorOf(c, caller) && !m.gate.HasRole(access.RoleAdmin, caller)
		}, ErrNotCreator),
	)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return c.Clone(), nil
	}

	j := store.NewJournal()
	m.touchCourse(j, c)
	c.IsActive = false
	c.UpdatedAt = m.now().UTC()
	if err := m.apply(ctx, j, nil); err != nil {
		return nil, err
	}

	m.publish(ctx, m.event(models.EventCourseDelisted, map[string]string{
		"course_id": strconv.FormatUint(id, 10),
		"sender":    caller.String(),
	}))
	return c.Clone(), nil
}

// courseExists loads course id into *c or fails with ErrCourseNotFound.
func (m *Market) courseExists(id uint64, c **models.Course) access.Check {
	return func() error {
		found, ok := m.courses[id]
		if !ok {
			return ErrCourseNotFound
		}
		*c = found
		return nil
	}
}

// GetCourse returns a copy of course id
func (m *Market) GetCourse(ctx context.Context, id uint64) (*models.Course, error) {
	var (
		c   *models.Course
		err error
	)
	m.lock.View(ctx, func() {
		found, ok := m.courses[id]
		if !ok {
			err = ErrCourseNotFound
			return
		}
		c = found.Clone()
	})
	return c, err
}

// ListCourses returns courses in id order, optionally only active ones
func (m *Market) ListCourses(ctx context.Context, activeOnly bool) []*models.Course {
	return m.filterCourses(ctx, func(c *models.Course) bool {
		return !activeOnly || c.IsActive
	})
}

// CoursesByCreator returns the courses created by creator in id order
func (m *Market) CoursesByCreator(ctx context.Context, creator models.Address) []*models.Course {
	return m.filterCourses(ctx, func(c *models.Course) bool {
		return c.Creator == creator
	})
}

func (m *Market) filterCourses(ctx context.Context, keep func(*models.Course) bool) []*models.Course {
	out := make([]*models.Course, 0)
	m.lock.View(ctx, func() {
		for _, c := range m.courses {
			if keep(c) {
				out = append(out, c.Clone())
			}
		}
	})
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}
