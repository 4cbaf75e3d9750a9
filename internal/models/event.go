package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger state transition
type EventType string

const (
	EventCourseCreated       EventType = "CourseCreated"
	EventCourseUpdated       EventType = "CourseUpdated"
	EventCourseDelisted      EventType = "CourseDelisted"
	EventCoursePurchased     EventType = "CoursePurchased"
	EventCourseCompleted     EventType = "CourseCompleted"
	EventRefundRequested     EventType = "RefundRequested"
	EventRefundProcessed     EventType = "RefundProcessed"
	EventCreatorWithdrawal   EventType = "CreatorWithdrawal"
	EventPlatformWithdrawal  EventType = "PlatformWithdrawal"
	EventPlatformFeeChanged  EventType = "PlatformFeeChanged"
	EventTreasuryChanged     EventType = "TreasuryChanged"
	EventTokensRewarded      EventType = "TokensRewarded"
	EventTokensBurned        EventType = "TokensBurned"
	EventTokensTransferred   EventType = "TokensTransferred"
	EventRewardRatesUpdated  EventType = "RewardRatesUpdated"
	EventAssignmentCreated   EventType = "AssignmentCreated"
	EventAssignmentSubmitted EventType = "AssignmentSubmitted"
	EventAssignmentGraded    EventType = "AssignmentGraded"
	EventPaused              EventType = "Paused"
	EventUnpaused            EventType = "Unpaused"
	EventRoleGranted         EventType = "RoleGranted"
	EventRoleRevoked         EventType = "RoleRevoked"
)

// Event is an append-only notification of a committed state transition.
// Seq is assigned by the recorder; the ledger never reads events back.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Seq       uint64            `json:"seq"`
	Source    string            `json:"source"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Attrs     map[string]string `json:"attrs"`
}

// NewEvent builds an event with a fresh ID.
func NewEvent(source string, typ EventType, at time.Time, attrs map[string]string) Event {
	return Event{
		ID:        uuid.New(),
		Source:    source,
		Type:      typ,
		Timestamp: at,
		Attrs:     attrs,
	}
}
