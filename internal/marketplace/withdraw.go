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

// CreatorWithdraw pays out creator's whole balance.
func (m *Market) CreatorWithdraw(ctx context.Context, creator models.Address) (amount decimal.Decimal, err error) {
	defer monitoring.ObserveLedgerOp(Source, "creator_withdraw", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	err = access.Require(
		m.gate.WhenNotPaused(),
		access.ValidCaller(creator),
		access.FailIf(func() bool { return !m.balances[creator].IsPositive() }, ErrNothingToWithdraw),
	)
	if err != nil {
		return decimal.Zero, err
	}

	amount = m.balances[creator]
	j := store.NewJournal()
	m.adjustBalance(j, creator, amount.Neg())
	m.adjustHeld(j, amount.Neg())
	if err := m.apply(ctx, j, &payout{to: creator, amount: amount}); err != nil {
		return decimal.Zero, err
	}

	logging.LogWithdrawal("creator", creator.String(), amount)
	monitoring.RecordWithdrawal("creator")
	m.publish(ctx, m.event(models.EventCreatorWithdrawal, map[string]string{
		"creator": creator.String(),
		"amount":  amount.String(),
	}))
	return amount, nil
}

// OwnerWithdraw pays the accumulated platform fees to the treasury, or to
// caller when no treasury is configured. Admin only.
func (m *Market) OwnerWithdraw(ctx context.Context, caller models.Address) (amount decimal.Decimal, err error) {
	defer monitoring.ObserveLedgerOp(Source, "owner_withdraw", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	err = access.Require(
		m.gate.OnlyRole(access.RoleAdmin, caller),
		access.FailIf(func() bool { return !m.platformBalance().IsPositive() }, ErrNothingToWithdraw),
	)
	if err != nil {
		return decimal.Zero, err
	}

	amount = m.platformBalance()
	to := m.meta.Treasury
	if to.IsZero() {
		to = caller
	}
	j := store.NewJournal()
	m.adjustHeld(j, amount.Neg())
	if err := m.apply(ctx, j, &payout{to: to, amount: amount}); err != nil {
		return decimal.Zero, err
	}

	logging.LogWithdrawal("platform", to.String(), amount)
	monitoring.RecordWithdrawal("platform")
	m.publish(ctx, m.event(models.EventPlatformWithdrawal, map[string]string{
		"recipient": to.String(),
		"amount":    amount.String(),
		"sender":    caller.String(),
	}))
	return amount, nil
}

// ChangePlatformFee sets the fee percent applied to future purchases.
// Admin only; setting the current value is a no-op.
func (m *Market) ChangePlatformFee(ctx context.Context, caller models.Address, percent int64) (err error) {
	defer monitoring.ObserveLedgerOp(Source, "change_fee", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = access.Require(
		m.gate.OnlyRole(access.RoleAdmin, caller),
		access.FailIf(func() bool { return percent < 0 || percent > m.maxFeePercent }, ErrFeeTooHigh),
	)
	if err != nil {
		return err
	}
	old := m.meta.FeePercent
	if old == percent {
		return nil
	}

	j := store.NewJournal()
	next := m.meta
	next.FeePercent = percent
	m.setMeta(j, next)
	if err := m.apply(ctx, j, nil); err != nil {
		return err
	}

	m.publish(ctx, m.event(models.EventPlatformFeeChanged, map[string]string{
		"old_fee": strconv.FormatInt(old, 10),
		"new_fee": strconv.FormatInt(percent, 10),
		"sender":  caller.String(),
	}))
	return nil
}

// SetTreasury changes the platform withdrawal recipient. Admin only.
func (m *Market) SetTreasury(ctx context.Context, caller, treasury models.Address) (err error) {
	defer monitoring.ObserveLedgerOp(Source, "set_treasury", time.Now(), &err)

	ctx, release, err := m.lock.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = access.Require(
		m.gate.OnlyRole(access.RoleAdmin, caller),
		access.FailIf(treasury.IsZero, models.ErrInvalidAddress),
	)
	if err != nil {
		return err
	}

	old := m.meta.Treasury
	j := store.NewJournal()
	next := m.meta
	next.Treasury = treasury
	m.setMeta(j, next)
	if err := m.apply(ctx, j, nil); err != nil {
		return err
	}

	m.publish(ctx, m.event(models.EventTreasuryChanged, map[string]string{
		"old_treasury": old.String(),
		"new_treasury": treasury.String(),
		"sender":       caller.String(),
	}))
	return nil
}
