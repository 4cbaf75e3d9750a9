package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/aimerfeng/CourseChain/internal/errors"
	"github.com/aimerfeng/CourseChain/internal/middleware"
	"github.com/aimerfeng/CourseChain/internal/models"
)

type createAssignmentRequest struct {
	CourseID uint64 `json:"course_id" binding:"required"`
	Title    string `json:"title"`
	MaxScore uint32 `json:"max_score"`
}

type submitRequest struct {
	ContentHash string `json:"content_hash"`
}

type gradeRequest struct {
	Student string `json:"student" binding:"required"`
	Score   uint32 `json:"score"`
}

func (s *APIServer) handleListAssignments(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	list := s.ledgers.Assignments.AssignmentsByCourse(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"assignments": list, "count": len(list)})
}

func (s *APIServer) handleCreateAssignment(c *gin.Context) {
	var req createAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	a, err := s.ledgers.Assignments.CreateAssignment(c.Request.Context(), middleware.GetCallerFromContext(c), req.CourseID, req.Title, req.MaxScore)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, a)
}

func (s *APIServer) handleGetAssignment(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	a, err := s.ledgers.Assignments.GetAssignment(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, a)
}

func (s *APIServer) handleSubmitAssignment(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	sub, err := s.ledgers.Assignments.Submit(c.Request.Context(), middleware.GetCallerFromContext(c), id, req.ContentHash)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (s *APIServer) handleGradeAssignment(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req gradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	student, err := models.ParseAddress(req.Student)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	res, err := s.ledgers.Assignments.Grade(c.Request.Context(), middleware.GetCallerFromContext(c), id, student, req.Score)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submission": res.Submission,
		"reward":     toRewardResponse(res.Reward),
	})
}

// handleGetSubmission is open to the student and the course creator only
func (s *APIServer) handleGetSubmission(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	student, ok := addressParam(c, "student")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	caller := middleware.GetCallerFromContext(c)
	if caller != student {
		a, err := s.ledgers.Assignments.GetAssignment(ctx, id)
		if err != nil {
			respondLedgerError(c, err)
			return
		}
		if a.Creator != caller {
			respondError(c, apierrors.ErrForbiddenError)
			return
		}
	}

	sub, err := s.ledgers.Assignments.GetSubmission(ctx, id, student)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}
