// Package assignment is the grading boundary of the marketplace. A passing
// grade triggers exactly one assignment reward per (assignment, student).
package assignment

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/store"
	"github.com/aimerfeng/CourseChain/internal/txlock"
)

// Source names the assignment manager in events and store buckets
const Source = "assignment"

// DefaultPassingThreshold is the minimum passing percentage
const DefaultPassingThreshold = 70

const (
	bucketAssignments = "assignment:assignments"
	bucketSubmissions = "assignment:submissions"
	bucketMeta        = "assignment:meta"
	metaKey           = "state"
)

// Assignment errors
var (
	ErrAssignmentNotFound = models.NewError(models.KindNotFound, "assignment: not found")
	ErrSubmissionNotFound = models.NewError(models.KindNotFound, "assignment: submission not found")
	ErrMissingTitle       = models.NewError(models.KindInvalidInput, "assignment: title is required")
	ErrMissingContent     = models.NewError(models.KindInvalidInput, "assignment: content hash is required")
	ErrInvalidMaxScore    = models.NewError(models.KindInvalidInput, "assignment: max score must be positive")
	ErrScoreOutOfRange    = models.NewError(models.KindInvalidInput, "assignment: score exceeds max score")
	ErrNotCreator         = models.NewError(models.KindForbidden, "assignment: caller is not the course creator")
	ErrNotEnrolled        = models.NewError(models.KindForbidden, "assignment: student has not purchased the course")
	ErrAlreadySubmitted   = models.NewError(models.KindConflict, "assignment: already submitted")
	ErrAlreadyGraded      = models.NewError(models.KindConflict, "assignment: already graded")
)

// CourseReader is the marketplace surface used for ownership and
// enrollment checks
type CourseReader interface {
	GetCourse(ctx context.Context, id uint64) (*models.Course, error)
	HasPurchased(ctx context.Context, buyer models.Address, courseID uint64) bool
}

// Rewarder mints the assignment-completion reward
type Rewarder interface {
	RewardAssignmentCompletion(ctx context.Context, caller, student models.Address, assignmentID uint64) (*models.RewardGrant, error)
}

// Options configures a Manager
type Options struct {
	// Address is the manager's own account, used as the reward caller
	Address          models.Address
	PassingThreshold uint32
}

// GradeResult is the outcome of Grade
type GradeResult struct {
	Submission *models.Submission
	Reward     *models.RewardOutcome
}

type meta struct {
	NextAssignmentID uint64 `json:"next_assignment_id"`
}

// Manager stores assignments and submissions
type Manager struct {
	addr      models.Address
	threshold uint32

	store   store.Store
	courses CourseReader
	rewards Rewarder
	events  access.Publisher
	lock    txlock.Lock
	now     func() time.Time
	logger  zerolog.Logger

	// guarded by lock
	assignments map[uint64]*models.Assignment
	submissions map[string]*models.Submission
	meta        meta
}

// New loads the assignment manager from s. rewards may be nil.
func New(ctx context.Context, s store.Store, courses CourseReader, rewards Rewarder, events access.Publisher, opts Options) (*Manager, error) {
	if opts.Address.IsZero() {
		return nil, fmt.Errorf("assignment: own address is required: %w", models.ErrInvalidAddress)
	}
	if opts.PassingThreshold > 100 {
		return nil, fmt.Errorf("assignment: passing threshold %d above 100: %w", opts.PassingThreshold, models.KindInvalidInput)
	}
	m := &Manager{
		addr:        opts.Address,
		threshold:   opts.PassingThreshold,
		store:       s,
		courses:     courses,
		rewards:     rewards,
		events:      events,
		now:         time.Now,
		logger:      logging.NewLogger("assignment"),
		assignments: make(map[uint64]*models.Assignment),
		submissions: make(map[string]*models.Submission),
		meta:        meta{NextAssignmentID: 1},
	}
	err := s.View(ctx, func(tx store.Tx) error {
		if _, err := tx.Get(bucketMeta, metaKey, &m.meta); err != nil {
			return err
		}
		err := tx.ForEach(bucketAssignments, func(_ string, raw []byte) error {
			var a models.Assignment
			if err := store.Decode(raw, &a); err != nil {
				return err
			}
			m.assignments[a.ID] = &a
			return nil
		})
		if err != nil {
			return err
		}
		return tx.ForEach(bucketSubmissions, func(key string, raw []byte) error {
			var sub models.Submission
			if err := store.Decode(raw, &sub); err != nil {
				return err
			}
			m.submissions[key] = &sub
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("assignment: load state: %w", err)
	}
	return m, nil
}

// Address returns the manager's own account
func (m *Manager) Address() models.Address { return m.addr }

// SetClock overrides the manager clock
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func submissionKey(assignmentID uint64, student models.Address) string {
	return store.Uint64Key(assignmentID) + "/" + string(student)
}

// Passed reports whether score out of maxScore meets the threshold
func (m *Manager) Passed(score, maxScore uint32) bool {
	return uint64(score)*100 >= uint64(m.threshold)*uint64(maxScore)
}

// CreateAssignment attaches an assignment to a course. Course creator only.
func (m *Manager) CreateAssignment(ctx context.Context, caller models.Address, courseID uint64, title string, maxScore uint32) (assignment *models.Assignment, err error) {
	defer monitoring.ObserveLedgerOp(Source, "create", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var course *models.Course
	err = access.Require(
		access.ValidCaller(caller),
		func() (err error) {
			course, err = m.courses.GetCourse(ctx, courseID)
			return err
		},
		access.FailIf(func() bool { return !access.IsCreatorOf(course, caller) }, ErrNotCreator),
		access.FailIf(func() bool { return strings.TrimSpace(title) == "" }, ErrMissingTitle),
		access.FailIf(func() bool { return maxScore == 0 }, ErrInvalidMaxScore),
	)
	if err != nil {
		return nil, err
	}

	id := m.meta.NextAssignmentID
	a := &models.Assignment{
		ID:        id,
		CourseID:  courseID,
		Creator:   caller,
		Title:     title,
		MaxScore:  maxScore,
		CreatedAt: m.now().UTC(),
	}
	j := store.NewJournal()
	prevMeta := m.meta
	j.OnRollback(func() { m.meta = prevMeta })
	m.meta.NextAssignmentID++
	j.Stage(bucketMeta, metaKey, func() any { return m.meta })
	m.assignments[id] = a
	j.OnRollback(func() { delete(m.assignments, id) })
	j.Stage(bucketAssignments, store.Uint64Key(id), func() any { return m.assignments[id] })
	if err := m.commit(ctx, j); err != nil {
		return nil, err
	}

	m.publish(ctx, models.NewEvent(Source, models.EventAssignmentCreated, a.CreatedAt, map[string]string{
		"assignment_id": strconv.FormatUint(id, 10),
		"course_id":     strconv.FormatUint(courseID, 10),
		"max_score":     strconv.FormatUint(uint64(maxScore), 10),
	}))
	cp := *a
	return &cp, nil
}

// Submit records a student's answer. The student must hold the course.
func (m *Manager) Submit(ctx context.Context, student models.Address, assignmentID uint64, contentHash string) (submission *models.Submission, err error) {
	defer monitoring.ObserveLedgerOp(Source, "submit", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	key := submissionKey(assignmentID, student)
	var a *models.Assignment
	err = access.Require(
		access.ValidCaller(student),
		m.assignmentExists(assignmentID, &a),
		access.FailIf(func() bool { return !m.courses.HasPurchased(ctx, student, a.CourseID) }, ErrNotEnrolled),
		access.FailIf(func() bool { return strings.TrimSpace(contentHash) == "" }, ErrMissingContent),
		access.FailIf(func() bool { return m.submissions[key] != nil }, ErrAlreadySubmitted),
	)
	if err != nil {
		return nil, err
	}

	sub := &models.Submission{
		AssignmentID: assignmentID,
		Student:      student,
		ContentHash:  contentHash,
		SubmittedAt:  m.now().UTC(),
	}
	j := store.NewJournal()
	m.submissions[key] = sub
	j.OnRollback(func() { delete(m.submissions, key) })
	m.stageSubmission(j, key)
	if err := m.commit(ctx, j); err != nil {
		return nil, err
	}

	m.publish(ctx, models.NewEvent(Source, models.EventAssignmentSubmitted, sub.SubmittedAt, map[string]string{
		"assignment_id": strconv.FormatUint(assignmentID, 10),
		"course_id":     strconv.FormatUint(a.CourseID, 10),
		"student":       student.String(),
		"content_hash":  contentHash,
	}))
	cp := *sub
	return &cp, nil
}

// Grade scores a submission. The course creator grades; each submission
// is graded once. A passing grade mints the assignment reward.
func (m *Manager) Grade(ctx context.Context, grader models.Address, assignmentID uint64, student models.Address, score uint32) (res *GradeResult, err error) {
	defer monitoring.ObserveLedgerOp(Source, "grade", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	key := submissionKey(assignmentID, student)
	var (
		a   *models.Assignment
		sub *models.Submission
	)
	err = access.Require(
		access.ValidCaller(grader),
		m.assignmentExists(assignmentID, &a),
		access.FailIf(func() bool { return a.Creator != grader }, ErrNotCreator),
		access.FailIf(func() bool { return score > a.MaxScore }, ErrScoreOutOfRange),
		func() error {
			sub = m.submissions[key]
			if sub == nil {
				return ErrSubmissionNotFound
			}
			return nil
		},
		access.FailIf(func() bool { return sub.Graded }, ErrAlreadyGraded),
	)
	if err != nil {
		return nil, err
	}

	j := store.NewJournal()
	prev := *sub
	j.OnRollback(func() { *sub = prev })
	now := m.now().UTC()
	sub.Graded = true
	sub.Score = score
	sub.Passed = m.Passed(score, a.MaxScore)
	sub.GradedAt = &now
	m.stageSubmission(j, key)
	if err := m.commit(ctx, j); err != nil {
		return nil, err
	}

	m.publish(ctx, models.NewEvent(Source, models.EventAssignmentGraded, now, map[string]string{
		"assignment_id": strconv.FormatUint(assignmentID, 10),
		"student":       student.String(),
		"score":         strconv.FormatUint(uint64(score), 10),
		"passed":        strconv.FormatBool(sub.Passed),
	}))
	cp := *sub
	res = &GradeResult{Submission: &cp}
	release()

	if cp.Passed {
		res.Reward = m.reward(ctx, assignmentID, student)
	}
	return res, nil
}

func (m *Manager) reward(ctx context.Context, assignmentID uint64, student models.Address) *models.RewardOutcome {
	key := models.AssignmentRewardKey(assignmentID, student)
	out := &models.RewardOutcome{Key: key}
	if m.rewards == nil {
		return out
	}
	out.Grant, out.Err = m.rewards.RewardAssignmentCompletion(ctx, m.addr, student, assignmentID)
	if out.Err != nil {
		logging.LogRewardFailure(out.Err, string(key.Activity), student.String(), key.Instance)
		monitoring.RecordRewardFailure(string(key.Activity))
	}
	return out
}

func (m *Manager) assignmentExists(id uint64, a **models.Assignment) access.Check {
	return func() error {
		found, ok := m.assignments[id]
		if !ok {
			return ErrAssignmentNotFound
		}
		*a = found
		return nil
	}
}

func (m *Manager) stageSubmission(j *store.Journal, key string) {
	j.Stage(bucketSubmissions, key, func() any {
		if sub, ok := m.submissions[key]; ok {
			return sub
		}
		return nil
	})
}

func (m *Manager) commit(ctx context.Context, j *store.Journal) error {
	if err := j.Commit(ctx, m.store); err != nil {
		m.logger.Error().Err(err).Int("writes", j.Dirty()).Msg("Failed to persist assignment transition")
		j.Rollback()
		return err
	}
	j.Discard()
	return nil
}

func (m *Manager) publish(ctx context.Context, evs ...models.Event) {
	if m.events != nil {
		m.events.Publish(ctx, evs...)
	}
}

// GetAssignment returns assignment id
func (m *Manager) GetAssignment(ctx context.Context, id uint64) (*models.Assignment, error) {
	var (
		a   *models.Assignment
		err error
	)
	m.lock.View(ctx, func() {
		found, ok := m.assignments[id]
		if !ok {
			err = ErrAssignmentNotFound
			return
		}
		cp := *found
		a = &cp
	})
	return a, err
}

// AssignmentsByCourse returns the assignments of a course in id order
func (m *Manager) AssignmentsByCourse(ctx context.Context, courseID uint64) []*models.Assignment {
	out := make([]*models.Assignment, 0)
	m.lock.View(ctx, func() {
		for _, a := range m.assignments {
			if a.CourseID == courseID {
				cp := *a
				out = append(out, &cp)
			}
		}
	})
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// GetSubmission returns student's submission for an assignment
func (m *Manager) GetSubmission(ctx context.Context, assignmentID uint64, student models.Address) (*models.Submission, error) {
	var (
		sub *models.Submission
		err error
	)
	m.lock.View(ctx, func() {
		found, ok := m.submissions[submissionKey(assignmentID, student)]
		if !ok {
			err = ErrSubmissionNotFound
			return
		}
		cp := *found
		sub = &cp
	})
	return sub, err
}
