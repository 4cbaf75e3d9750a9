package reward

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/store"
)

// Burn destroys amount of caller's own tokens.
func (l *Ledger) Burn(ctx context.Context, caller models.Address, amount decimal.Decimal) (err error) {
	defer monitoring.ObserveLedgerOp(Source, "burn", time.Now(), &err)

	ctx, release, err := l.lock.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = access.Require(
		l.gate.WhenNotPaused(),
		access.ValidCaller(caller),
		positive(amount),
		access.FailIf(func() bool { return l.balances[caller].LessThan(amount) }, ErrInsufficientBalance),
	)
	if err != nil {
		return err
	}

	j := store.NewJournal()
	l.debit(j, caller, amount)
	next := l.meta
	next.TotalSupply = next.TotalSupply.Sub(amount)
	l.setMeta(j, next)
	if err := l.commit(ctx, j); err != nil {
		return err
	}

	l.publish(ctx, l.event(models.EventTokensBurned, map[string]string{
		"account": caller.String(),
		"amount":  amount.String(),
	}))
	return nil
}

// Transfer moves amount of tokens from from to to.
func (l *Ledger) Transfer(ctx context.Context, from, to models.Address, amount decimal.Decimal) (err error) {
	defer monitoring.ObserveLedgerOp(Source, "transfer", time.Now(), &err)

	ctx, release, err := l.lock.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = access.Require(
		l.gate.WhenNotPaused(),
		access.ValidCaller(from),
		access.FailIf(to.IsZero, ErrInvalidRecipient),
		positive(amount),
		access.FailIf(func() bool { return l.balances[from].LessThan(amount) }, ErrInsufficientBalance),
	)
	if err != nil {
		return err
	}

	j := store.NewJournal()
	l.debit(j, from, amount)
	l.credit(j, to, amount)
	if err := l.commit(ctx, j); err != nil {
		return err
	}

	l.publish(ctx, l.event(models.EventTokensTransferred, map[string]string{
		"from":   from.String(),
		"to":     to.String(),
		"amount": amount.String(),
	}))
	return nil
}

// UpdateRewardRates replaces all four rates at once. Admin only, and
// rejected while the token is paused.
func (l *Ledger) UpdateRewardRates(ctx context.Context, caller models.Address, rates models.RewardRates) (err error) {
	defer monitoring.ObserveLedgerOp(Source, "update_rates", time.Now(), &err)

	ctx, release, err := l.lock.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = access.Require(
		l.gate.WhenNotPaused(),
		l.gate.OnlyRole(access.RoleAdmin, caller),
		access.FailIf(func() bool { return !validRates(rates) }, ErrInvalidRate),
	)
	if err != nil {
		return err
	}

	j := store.NewJournal()
	next := l.meta
	next.Rates = rates
	l.setMeta(j, next)
	if err := l.commit(ctx, j); err != nil {
		return err
	}

	l.publish(ctx, l.event(models.EventRewardRatesUpdated, map[string]string{
		"sender":                caller.String(),
		"course_purchase":       rates.CoursePurchase.String(),
		"course_completion":     rates.CourseCompletion.String(),
		"content_creation":      rates.ContentCreation.String(),
		"assignment_completion": rates.AssignmentCompletion.String(),
	}))
	return nil
}

// BalanceOf returns the token balance of addr
func (l *Ledger) BalanceOf(ctx context.Context, addr models.Address) decimal.Decimal {
	var bal decimal.Decimal
	l.lock.View(ctx, func() { bal = l.balances[addr] })
	return bal
}

// TotalSupply returns the number of tokens in circulation
func (l *Ledger) TotalSupply(ctx context.Context) decimal.Decimal {
	var supply decimal.Decimal
	l.lock.View(ctx, func() { supply = l.meta.TotalSupply })
	return supply
}

// Rates returns the current reward rates
func (l *Ledger) Rates(ctx context.Context) models.RewardRates {
	var r models.RewardRates
	l.lock.View(ctx, func() { r = l.meta.Rates })
	return r
}

// Rewarded reports whether key has already been rewarded
func (l *Ledger) Rewarded(ctx context.Context, key models.RewardKey) bool {
	var ok bool
	l.lock.View(ctx, func() { ok = l.grants[key.String()] != nil })
	return ok
}

// Grant returns the grant recorded for key, or nil
func (l *Ledger) Grant(ctx context.Context, key models.RewardKey) *models.RewardGrant {
	var g *models.RewardGrant
	l.lock.View(ctx, func() {
		if stored := l.grants[key.String()]; stored != nil {
			cp := *stored
			g = &cp
		}
	})
	return g
}
