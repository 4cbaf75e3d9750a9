package models

import "time"

// Assignment is a graded task attached to a course
type Assignment struct {
	ID        uint64    `json:"id"`
	CourseID  uint64    `json:"course_id"`
	Creator   Address   `json:"creator"`
	Title     string    `json:"title"`
	MaxScore  uint32    `json:"max_score"`
	CreatedAt time.Time `json:"created_at"`
}

// Submission is a student's answer to an assignment
type Submission struct {
	AssignmentID uint64     `json:"assignment_id"`
	Student      Address    `json:"student"`
	ContentHash  string     `json:"content_hash"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Graded       bool       `json:"graded"`
	Score        uint32     `json:"score"`
	Passed       bool       `json:"passed"`
	GradedAt     *time.Time `json:"graded_at,omitempty"`
}
