package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apierrors "github.com/aimerfeng/CourseChain/internal/errors"
	"github.com/aimerfeng/CourseChain/internal/marketplace"
	"github.com/aimerfeng/CourseChain/internal/middleware"
	"github.com/aimerfeng/CourseChain/internal/models"
)

type courseRequest struct {
	Price         decimal.Decimal `json:"price"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	ThumbnailHash string          `json:"thumbnail_hash"`
	ContentHash   string          `json:"content_hash"`
	ModuleCount   uint32          `json:"module_count"`
	IsActive      *bool           `json:"is_active,omitempty"`
}

func (r courseRequest) input() marketplace.CourseInput {
	return marketplace.CourseInput{
		Price: r.Price,
		CourseMeta: models.CourseMeta{
			Title:         r.Title,
			Description:   r.Description,
			ThumbnailHash: r.ThumbnailHash,
			ContentHash:   r.ContentHash,
			ModuleCount:   r.ModuleCount,
		},
		IsActive: r.IsActive,
	}
}

type purchaseRequest struct {
	Payment decimal.Decimal `json:"payment"`
}

// handleListCourses lists courses; ?active=false includes delisted ones
func (s *APIServer) handleListCourses(c *gin.Context) {
	activeOnly := true
	if v := c.Query("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, apierrors.NewInvalidRequestError("Invalid active flag"))
			return
		}
		activeOnly = b
	}

	courses := s.ledgers.Market.ListCourses(c.Request.Context(), activeOnly)
	c.JSON(http.StatusOK, gin.H{"courses": courses, "count": len(courses)})
}

func (s *APIServer) handleGetCourse(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	course, err := s.ledgers.Market.GetCourse(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, course)
}

func (s *APIServer) handleCreateCourse(c *gin.Context) {
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	res, err := s.ledgers.Market.CreateCourse(c.Request.Context(), middleware.GetCallerFromContext(c), req.input())
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"course": res.Course,
		"reward": toRewardResponse(res.Reward),
	})
}

// handleUpdateCourse replaces a course's price and descriptive fields. PUT
// carries the whole editable course except the listing state: is_active
// relists or delists only when present, and an omitted is_active keeps
// the course's current listing state.
func (s *APIServer) handleUpdateCourse(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	course, err := s.ledgers.Market.UpdateCourse(c.Request.Context(), middleware.GetCallerFromContext(c), id, req.input())
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, course)
}

func (s *APIServer) handleDelistCourse(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	course, err := s.ledgers.Market.DelistCourse(c.Request.Context(), middleware.GetCallerFromContext(c), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, course)
}

func (s *APIServer) handleGetPurchase(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	p, err := s.ledgers.Market.GetPurchase(c.Request.Context(), middleware.GetCallerFromContext(c), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": p, "state": p.State()})
}

func (s *APIServer) handlePurchaseCourse(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	res, err := s.ledgers.Market.PurchaseCourse(c.Request.Context(), middleware.GetCallerFromContext(c), id, req.Payment)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"purchase":    res.Purchase,
		"split":       res.Split,
		"overpayment": res.Overpayment,
		"reward":      toRewardResponse(res.Reward),
	})
}

func (s *APIServer) handleCompleteCourse(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	res, err := s.ledgers.Market.CompleteCourse(c.Request.Context(), middleware.GetCallerFromContext(c), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purchase": res.Purchase,
		"reward":   toRewardResponse(res.Reward),
	})
}

func (s *APIServer) handleRequestRefund(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	p, err := s.ledgers.Market.RequestRefund(c.Request.Context(), middleware.GetCallerFromContext(c), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, p)
}

// handleListPurchases lists the caller's purchase records
func (s *APIServer) handleListPurchases(c *gin.Context) {
	purchases := s.ledgers.Market.PurchasesByBuyer(c.Request.Context(), middleware.GetCallerFromContext(c))
	c.JSON(http.StatusOK, gin.H{"purchases": purchases, "count": len(purchases)})
}

func (s *APIServer) handlePendingRefunds(c *gin.Context) {
	pending := s.ledgers.Market.PendingRefunds(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"refunds": pending, "count": len(pending)})
}

func (s *APIServer) handleProcessRefund(c *gin.Context) {
	buyer, ok := addressParam(c, "buyer")
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}

	p, err := s.ledgers.Market.ProcessRefund(c.Request.Context(), middleware.GetCallerFromContext(c), buyer, id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

func (s *APIServer) handleCreatorCourses(c *gin.Context) {
	courses := s.ledgers.Market.CoursesByCreator(c.Request.Context(), middleware.GetCallerFromContext(c))
	c.JSON(http.StatusOK, gin.H{"courses": courses, "count": len(courses)})
}

func (s *APIServer) handleCreatorBalance(c *gin.Context) {
	caller := middleware.GetCallerFromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"creator": caller,
		"balance": s.ledgers.Market.CreatorBalance(c.Request.Context(), caller),
	})
}

func (s *APIServer) handleCreatorWithdraw(c *gin.Context) {
	caller := middleware.GetCallerFromContext(c)
	amount, err := s.ledgers.Market.CreatorWithdraw(c.Request.Context(), caller)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recipient": caller, "amount": amount})
}
