package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apierrors "github.com/aimerfeng/CourseChain/internal/errors"
	"github.com/aimerfeng/CourseChain/internal/middleware"
	"github.com/aimerfeng/CourseChain/internal/models"
)

type burnRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	To     string          `json:"to" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *APIServer) handleRewardBalance(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"balance": s.ledgers.Rewards.BalanceOf(c.Request.Context(), addr),
	})
}

func (s *APIServer) handleRewardSupply(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"total_supply": s.ledgers.Rewards.TotalSupply(c.Request.Context())})
}

func (s *APIServer) handleRewardRates(c *gin.Context) {
	c.JSON(http.StatusOK, s.ledgers.Rewards.Rates(c.Request.Context()))
}

func (s *APIServer) handleBurn(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	caller := middleware.GetCallerFromContext(c)
	if err := s.ledgers.Rewards.Burn(c.Request.Context(), caller, req.Amount); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"burned":  req.Amount,
		"balance": s.ledgers.Rewards.BalanceOf(c.Request.Context(), caller),
	})
}

func (s *APIServer) handleTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	to, err := models.ParseAddress(req.To)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	caller := middleware.GetCallerFromContext(c)
	if err := s.ledgers.Rewards.Transfer(c.Request.Context(), caller, to, req.Amount); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":    caller,
		"to":      to,
		"amount":  req.Amount,
		"balance": s.ledgers.Rewards.BalanceOf(c.Request.Context(), caller),
	})
}
