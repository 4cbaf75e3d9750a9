package marketplace

import (
	"context"
	"strconv"
	"time"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/store"
)

// RequestRefund flags buyer's purchase for refund. Only possible within
// the refund window and before completion.
func (m *Market) RequestRefund(ctx context.Context, buyer models.Address, courseID uint64) (purchase *models.Purchase, err error) {
	defer monitoring.ObserveLedgerOp(Source, "request_refund", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	now := m.now().UTC()
	var p *models.Purchase
	err = access.Require(
		m.gate.WhenNotPaused(),
		access.ValidCaller(buyer),
		m.purchaseExists(courseID, buyer, &p),
		access.FailIf(func() bool { return p.Refunded }, ErrAlreadyRefunded),
		access.FailIf(func() bool { return p.RefundRequested }, ErrAlreadyRequested),
		access.FailIf(func() bool { return p.Completed }, ErrCourseCompleted),
		access.FailIf(func() bool { return now.After(p.PurchaseDate.Add(m.refundWindow)) }, ErrRefundWindowExpired),
	)
	if err != nil {
		return nil, err
	}

	j := store.NewJournal()
	m.touchPurchase(j, p)
	p.RefundRequested = true
	if err := m.apply(ctx, j, nil); err != nil {
		return nil, err
	}

	logging.LogRefund(buyer.String(), courseID, "requested", p.PricePaid)
	monitoring.RecordRefund("requested")
	m.publish(ctx, m.event(models.EventRefundRequested, map[string]string{
		"course_id": strconv.FormatUint(courseID, 10),
		"buyer":     buyer.String(),
	}))
	return p.Clone(), nil
}

// ProcessRefund pays back a pending refund request. The split recorded at
// purchase time is reversed, so a later price change does not affect the
// refund. Requires the refund manager role.
func (m *Market) ProcessRefund(ctx context.Context, authority, buyer models.Address, courseID uint64) (purchase *models.Purchase, err error) {
	defer monitoring.ObserveLedgerOp(Source, "process_refund", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		p *models.Purchase
		c *models.Course
	)
	err = access.Require(
		m.gate.WhenNotPaused(),
		m.gate.OnlyRole(access.RoleRefundManager, authority),
		m.purchaseExists(courseID, buyer, &p),
		access.FailIf(func() bool { return !p.RefundRequested }, ErrNoRequestPending),
		access.FailIf(func() bool { return p.Refunded }, ErrAlreadyRefunded),
		access.FailIf(func() bool { return p.Completed }, ErrCourseCompleted),
		m.courseExists(courseID, &c),
		access.FailIf(func() bool { return m.balances[c.Creator].LessThan(p.CreatorAmount) }, ErrInsufficientCreatorBalance),
		access.FailIf(func() bool { return m.platformBalance().LessThan(p.PlatformFee) }, ErrInsufficientPlatformFunds),
	)
	if err != nil {
		return nil, err
	}

	j := store.NewJournal()
	m.adjustBalance(j, c.Creator, p.CreatorAmount.Neg())
	m.touchCourse(j, c)
	c.TotalSales--
	c.TotalRevenue = c.TotalRevenue.Sub(p.PricePaid)
	c.EnrolledUsers--
	m.touchPurchase(j, p)
	now := m.now().UTC()
	p.Refunded = true
	p.RefundedDate = &now
	m.adjustHeld(j, p.PricePaid.Neg())
	if err := m.apply(ctx, j, &payout{to: buyer, amount: p.PricePaid}); err != nil {
		return nil, err
	}

	logging.LogRefund(buyer.String(), courseID, "processed", p.PricePaid)
	monitoring.RecordRefund("processed")
	m.publish(ctx, m.event(models.EventRefundProcessed, map[string]string{
		"course_id": strconv.FormatUint(courseID, 10),
		"buyer":     buyer.String(),
		"amount":    p.PricePaid.String(),
		"authority": authority.String(),
	}))
	return p.Clone(), nil
}
