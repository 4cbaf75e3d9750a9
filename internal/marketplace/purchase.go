package marketplace

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/store"
)

// PurchaseResult is the outcome of PurchaseCourse
type PurchaseResult struct {
	Purchase    *models.Purchase
	Split       models.FeeSplit
	Overpayment decimal.Decimal
	Reward      *models.RewardOutcome
}

// CompleteResult is the outcome of CompleteCourse
type CompleteResult struct {
	Purchase *models.Purchase
	Reward   *models.RewardOutcome
}

// PurchaseCourse records buyer's payment for a course. The creator's
// share is credited to their balance, the fee stays with the platform and
// any overpayment is returned to the buyer.
func (m *Market) PurchaseCourse(ctx context.Context, buyer models.Address, courseID uint64, payment decimal.Decimal) (res *PurchaseResult, err error) {
	defer monitoring.ObserveLedgerOp(Source, "purchase", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	key := purchaseKey(courseID, buyer)
	var c *models.Course
	err = access.Require(
		m.gate.WhenNotPaused(),
		access.ValidCaller(buyer),
		access.FailIf(func() bool { return payment.IsNegative() || !wholeAmount(payment) }, models.ErrInvalidAmount),
		m.courseExists(courseID, &c),
		access.FailIf(func() bool { return !c.IsActive }, ErrInactiveCourse),
		access.FailIf(func() bool { return payment.LessThan(c.Price) }, ErrInsufficientPayment),
		access.FailIf(func() bool { return m.purchases[key] != nil }, ErrAlreadyPurchased),
	)
	if err != nil {
		return nil, err
	}

	split := m.split(c.Price)
	overpayment := payment.Sub(c.Price)
	p := &models.Purchase{
		CourseID:      courseID,
		Buyer:         buyer,
		PurchaseDate:  m.now().UTC(),
		PricePaid:     split.Price,
		PlatformFee:   split.PlatformFee,
		CreatorAmount: split.CreatorAmount,
	}

	j := store.NewJournal()
	m.touchCourse(j, c)
	c.TotalSales++
	c.TotalRevenue = c.TotalRevenue.Add(split.Price)
	c.EnrolledUsers++
	m.adjustBalance(j, c.Creator, split.CreatorAmount)
	m.adjustHeld(j, split.Price)
	m.purchases[key] = p
	j.OnRollback(func() { delete(m.purchases, key) })
	m.stagePurchase(j, key)

	var refund *payout
	if overpayment.IsPositive() {
		refund = &payout{to: buyer, amount: overpayment}
	}
	if err := m.apply(ctx, j, refund); err != nil {
		return nil, err
	}

	logging.LogPurchase(buyer.String(), courseID, split.Price, split.PlatformFee, split.CreatorAmount)
	monitoring.RecordPurchase(split.Price.InexactFloat64(), split.PlatformFee.InexactFloat64())
	m.publish(ctx, m.event(models.EventCoursePurchased, map[string]string{
		"course_id":      strconv.FormatUint(courseID, 10),
		"buyer":          buyer.String(),
		"creator":        c.Creator.String(),
		"price":          split.Price.String(),
		"platform_fee":   split.PlatformFee.String(),
		"creator_amount": split.CreatorAmount.String(),
	}))
	res = &PurchaseResult{Purchase: p.Clone(), Split: split, Overpayment: overpayment}
	release()

	res.Reward = m.reward(ctx, models.PurchaseRewardKey(courseID, buyer), buyer, func(r RewardHooks) (*models.RewardGrant, error) {
		return r.RewardCoursePurchase(ctx, m.addr, buyer, courseID)
	})
	return res, nil
}

// CompleteCourse marks buyer's purchase as completed. Completion closes
// the refund path.
func (m *Market) CompleteCourse(ctx context.Context, buyer models.Address, courseID uint64) (res *CompleteResult, err error) {
	defer monitoring.ObserveLedgerOp(Source, "complete", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var p *models.Purchase
	err = access.Require(
		m.gate.WhenNotPaused(),
		access.ValidCaller(buyer),
		m.purchaseExists(courseID, buyer, &p),
		access.FailIf(func() bool { return p.Refunded }, ErrAlreadyRefunded),
		access.FailIf(func() bool { return p.Completed }, ErrAlreadyCompleted),
		access.FailIf(func() bool { return p.RefundRequested }, ErrRefundPending),
	)
	if err != nil {
		return nil, err
	}

	j := store.NewJournal()
	m.touchPurchase(j, p)
	now := m.now().UTC()
	p.Completed = true
	p.CompletedDate = &now
	if err := m.apply(ctx, j, nil); err != nil {
		return nil, err
	}

	m.publish(ctx, m.event(models.EventCourseCompleted, map[string]string{
		"course_id": strconv.FormatUint(courseID, 10),
		"buyer":     buyer.String(),
	}))
	res = &CompleteResult{Purchase: p.Clone()}
	release()

	res.Reward = m.reward(ctx, models.CompletionRewardKey(courseID, buyer), buyer, func(r RewardHooks) (*models.RewardGrant, error) {
		return r.RewardCourseCompletion(ctx, m.addr, buyer, courseID)
	})
	return res, nil
}

// purchaseExists loads buyer's purchase of courseID into *p or fails with
// ErrNotPurchased.
func (m *Market) purchaseExists(courseID uint64, buyer models.Address, p **models.Purchase) access.Check {
	return func() error {
		found, ok := m.purchases[purchaseKey(courseID, buyer)]
		if !ok {
			return ErrNotPurchased
		}
		*p = found
		return nil
	}
}
