package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Activity identifies a rewardable user action
type Activity string

const (
	ActivityCoursePurchase       Activity = "course_purchase"
	ActivityCourseCompletion     Activity = "course_completion"
	ActivityContentCreation      Activity = "content_creation"
	ActivityAssignmentCompletion Activity = "assignment_completion"
)

// Activities lists every rewardable activity.
var Activities = []Activity{
	ActivityCoursePurchase,
	ActivityCourseCompletion,
	ActivityContentCreation,
	ActivityAssignmentCompletion,
}

// RewardRates holds the fixed mint amount per activity, in token base units.
type RewardRates struct {
	CoursePurchase       decimal.Decimal `json:"course_purchase"`
	CourseCompletion     decimal.Decimal `json:"course_completion"`
	ContentCreation      decimal.Decimal `json:"content_creation"`
	AssignmentCompletion decimal.Decimal `json:"assignment_completion"`
}

// For returns the rate configured for activity a.
func (r RewardRates) For(a Activity) decimal.Decimal {
	switch a {
	case ActivityCoursePurchase:
		return r.CoursePurchase
	case ActivityCourseCompletion:
		return r.CourseCompletion
	case ActivityContentCreation:
		return r.ContentCreation
	case ActivityAssignmentCompletion:
		return r.AssignmentCompletion
	}
	return decimal.Zero
}

// RewardKey is the idempotency key of a single reward-triggering event.
type RewardKey struct {
	Activity Activity `json:"activity"`
	Instance string   `json:"instance"`
}

func (k RewardKey) String() string {
	return fmt.Sprintf("%s/%s", k.Activity, k.Instance)
}

// PurchaseRewardKey keys the purchase reward for (course, buyer).
func PurchaseRewardKey(courseID uint64, buyer Address) RewardKey {
	return RewardKey{Activity: ActivityCoursePurchase, Instance: fmt.Sprintf("%d:%s", courseID, buyer)}
}

// CompletionRewardKey keys the completion reward for (course, buyer).
func CompletionRewardKey(courseID uint64, buyer Address) RewardKey {
	return RewardKey{Activity: ActivityCourseCompletion, Instance: fmt.Sprintf("%d:%s", courseID, buyer)}
}

// ContentRewardKey keys the content-creation reward for a course.
func ContentRewardKey(courseID uint64) RewardKey {
	return RewardKey{Activity: ActivityContentCreation, Instance: fmt.Sprintf("%d", courseID)}
}

// AssignmentRewardKey keys the assignment reward for (assignment, student).
func AssignmentRewardKey(assignmentID uint64, student Address) RewardKey {
	return RewardKey{Activity: ActivityAssignmentCompletion, Instance: fmt.Sprintf("%d:%s", assignmentID, student)}
}

// RewardGrant records a minted reward. Grants are stored by key so a
// replayed trigger is detected.
type RewardGrant struct {
	Key       RewardKey       `json:"key"`
	Recipient Address         `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	GrantedAt time.Time       `json:"granted_at"`
}

// RewardOutcome reports the best-effort reward attached to a transition.
// Err is set when minting failed; the transition itself still stands.
type RewardOutcome struct {
	Key   RewardKey    `json:"key"`
	Grant *RewardGrant `json:"grant,omitempty"`
	Err   error        `json:"-"`
}

// Minted reports whether the reward was granted.
func (o *RewardOutcome) Minted() bool {
	return o != nil && o.Grant != nil
}
