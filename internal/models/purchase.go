package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseState is the derived lifecycle state of a purchase record
type PurchaseState string

const (
	PurchaseStatePurchased       PurchaseState = "purchased"
	PurchaseStateRefundRequested PurchaseState = "refund_requested"
	PurchaseStateRefunded        PurchaseState = "refunded"
	PurchaseStateCompleted       PurchaseState = "completed"
)

// Purchase is a buyer's paid claim on a course. The fee split is recorded
// at purchase time so refunds reverse exactly what was credited.
type Purchase struct {
	CourseID        uint64          `json:"course_id"`
	Buyer           Address         `json:"buyer"`
	PurchaseDate    time.Time       `json:"purchase_date"`
	PricePaid       decimal.Decimal `json:"price_paid"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	CreatorAmount   decimal.Decimal `json:"creator_amount"`
	RefundRequested bool            `json:"refund_requested"`
	Refunded        bool            `json:"refunded"`
	Completed       bool            `json:"completed"`
	CompletedDate   *time.Time      `json:"completed_date,omitempty"`
	RefundedDate    *time.Time      `json:"refunded_date,omitempty"`
}

// State derives the lifecycle state from the record's flags.
func (p *Purchase) State() PurchaseState {
	switch {
	case p.Refunded:
		return PurchaseStateRefunded
	case p.Completed:
		return PurchaseStateCompleted
	case p.RefundRequested:
		return PurchaseStateRefundRequested
	default:
		return PurchaseStatePurchased
	}
}

// Terminal reports whether no further transitions are possible.
func (p *Purchase) Terminal() bool {
	return p.Refunded || p.Completed
}

// Clone returns a deep copy of p.
func (p *Purchase) Clone() *Purchase {
	cp := *p
	if p.CompletedDate != nil {
		t := *p.CompletedDate
		cp.CompletedDate = &t
	}
	if p.RefundedDate != nil {
		t := *p.RefundedDate
		cp.RefundedDate = &t
	}
	return &cp
}

// FeeSplit is the division of a course price between platform and creator
type FeeSplit struct {
	Price         decimal.Decimal `json:"price"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	CreatorAmount decimal.Decimal `json:"creator_amount"`
}
