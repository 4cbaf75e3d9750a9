package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aimerfeng/CourseChain/internal/access"
	apierrors "github.com/aimerfeng/CourseChain/internal/errors"
	"github.com/aimerfeng/CourseChain/internal/events"
	"github.com/aimerfeng/CourseChain/internal/middleware"
	"github.com/aimerfeng/CourseChain/internal/models"
)

const maxEventPage = 500

type feeRequest struct {
	Percent *int64 `json:"percent" binding:"required"`
}

type treasuryRequest struct {
	Address string `json:"address" binding:"required"`
}

type roleRequest struct {
	Role    access.Role `json:"role" binding:"required"`
	Account string      `json:"account" binding:"required"`
}

func (s *APIServer) handlePlatformStats(c *gin.Context) {
	ctx := c.Request.Context()
	m := s.ledgers.Market
	c.JSON(http.StatusOK, gin.H{
		"fee_percent":           m.PlatformFeePercent(ctx),
		"platform_balance":      m.PlatformBalance(ctx),
		"held_funds":            m.HeldFunds(ctx),
		"total_creator_balance": m.TotalCreatorBalances(ctx),
		"treasury":              m.Treasury(ctx),
		"refund_window_seconds": int64(m.RefundWindow().Seconds()),
		"paused":                m.Gate().IsPaused(),
		"token_total_supply":    s.ledgers.Rewards.TotalSupply(ctx),
	})
}

func (s *APIServer) handleChangeFee(c *gin.Context) {
	var req feeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	if err := s.ledgers.Market.ChangePlatformFee(ctx, middleware.GetCallerFromContext(c), *req.Percent); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"fee_percent": s.ledgers.Market.PlatformFeePercent(ctx)})
}

func (s *APIServer) handleSetTreasury(c *gin.Context) {
	var req treasuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	addr, err := models.ParseAddress(req.Address)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	if err := s.ledgers.Market.SetTreasury(c.Request.Context(), middleware.GetCallerFromContext(c), addr); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"treasury": addr})
}

func (s *APIServer) handleOwnerWithdraw(c *gin.Context) {
	amount, err := s.ledgers.Market.OwnerWithdraw(c.Request.Context(), middleware.GetCallerFromContext(c))
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func (s *APIServer) handleUpdateRates(c *gin.Context) {
	var rates models.RewardRates
	if err := c.ShouldBindJSON(&rates); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	if err := s.ledgers.Rewards.UpdateRewardRates(ctx, middleware.GetCallerFromContext(c), rates); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.ledgers.Rewards.Rates(ctx))
}

// handleListEvents pages through the in-process event log
func (s *APIServer) handleListEvents(c *gin.Context) {
	q := events.Query{
		Type:   models.EventType(c.Query("type")),
		Source: c.Query("source"),
		Limit:  100,
	}
	if v := c.Query("since"); v != "" {
		since, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(c, apierrors.NewInvalidRequestError("Invalid since: must be a sequence number"))
			return
		}
		q.SinceSeq = since
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(c, apierrors.NewInvalidRequestError("Invalid limit"))
			return
		}
		q.Limit = min(limit, maxEventPage)
	}

	evs := s.ledgers.Events.Events(q)
	c.JSON(http.StatusOK, gin.H{
		"events":   evs,
		"count":    len(evs),
		"last_seq": s.ledgers.Events.LastSeq(),
	})
}

// handleArchivedEvents returns the newest events from the archive,
// including those rotated out of the in-process log
func (s *APIServer) handleArchivedEvents(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(c, apierrors.NewInvalidRequestError("Invalid limit"))
			return
		}
		limit = min(n, maxEventPage)
	}

	evs, err := s.archive.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": evs,
		"count":  len(evs),
	})
}

func (s *APIServer) handlePause(c *gin.Context) {
	gate, ok := s.gateFor(c)
	if !ok {
		return
	}

	if err := gate.Pause(c.Request.Context(), middleware.GetCallerFromContext(c)); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ledger": gate.Name(), "paused": gate.IsPaused()})
}

func (s *APIServer) handleUnpause(c *gin.Context) {
	gate, ok := s.gateFor(c)
	if !ok {
		return
	}

	if err := gate.Unpause(c.Request.Context(), middleware.GetCallerFromContext(c)); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ledger": gate.Name(), "paused": gate.IsPaused()})
}

func (s *APIServer) handleGrantRole(c *gin.Context) {
	s.changeRole(c, true)
}

func (s *APIServer) handleRevokeRole(c *gin.Context) {
	s.changeRole(c, false)
}

func (s *APIServer) changeRole(c *gin.Context, grant bool) {
	gate, ok := s.gateFor(c)
	if !ok {
		return
	}

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	account, err := models.ParseAddress(req.Account)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	ctx := c.Request.Context()
	caller := middleware.GetCallerFromContext(c)
	if grant {
		err = gate.Grant(ctx, caller, req.Role, account)
	} else {
		err = gate.Revoke(ctx, caller, req.Role, account)
	}
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ledger":  gate.Name(),
		"role":    req.Role,
		"account": account,
		"members": gate.Members(req.Role),
	})
}
