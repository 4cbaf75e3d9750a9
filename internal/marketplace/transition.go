package marketplace

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/store"
)

type payout struct {
	to     models.Address
	amount decimal.Decimal
}

// apply persists j and then issues the payout, if any. A failed store
// write undoes the in-memory mutations; a failed payout also undoes the
// persisted ones.
func (m *Market) apply(ctx context.Context, j *store.Journal, p *payout) error {
	if err := j.Commit(ctx, m.store); err != nil {
		j.Rollback()
		return err
	}
	if p != nil && p.amount.IsPositive() {
		if err := m.bank.Transfer(ctx, p.to, p.amount); err != nil {
			if rerr := j.Revert(ctx, m.store); rerr != nil {
				m.logger.Error().
					Err(rerr).
					Str("recipient", p.to.String()).
					Msg("Failed to persist reverted transition")
			}
			return fmt.Errorf("marketplace: transfer %s to %s: %w", p.amount, p.to, err)
		}
	}
	j.Discard()
	return nil
}

func (m *Market) touchCourse(j *store.Journal, c *models.Course) {
	prev := *c
	j.OnRollback(func() { *c = prev })
	m.stageCourse(j, c.ID)
}

func (m *Market) stageCourse(j *store.Journal, id uint64) {
	j.Stage(bucketCourses, store.Uint64Key(id), func() any {
		if c, ok := m.courses[id]; ok {
			return c
		}
		return nil
	})
}

func (m *Market) touchPurchase(j *store.Journal, p *models.Purchase) {
	prev := p.Clone()
	j.OnRollback(func() { *p = *prev })
	m.stagePurchase(j, purchaseKey(p.CourseID, p.Buyer))
}

func (m *Market) stagePurchase(j *store.Journal, key string) {
	j.Stage(bucketPurchases, key, func() any {
		if p, ok := m.purchases[key]; ok {
			return p
		}
		return nil
	})
}

func (m *Market) adjustBalance(j *store.Journal, addr models.Address, delta decimal.Decimal) {
	prev, had := m.balances[addr]
	j.OnRollback(func() {
		if had {
			m.balances[addr] = prev
		} else {
			delete(m.balances, addr)
		}
	})
	next := prev.Add(delta)
	if next.IsZero() {
		delete(m.balances, addr)
	} else {
		m.balances[addr] = next
	}
	j.Stage(bucketBalances, string(addr), func() any {
		if bal, ok := m.balances[addr]; ok {
			return bal
		}
		return nil
	})
}

func (m *Market) setMeta(j *store.Journal, next meta) {
	prev := m.meta
	j.OnRollback(func() { m.meta = prev })
	m.meta = next
	j.Stage(bucketMeta, metaKey, func() any { return m.meta })
}

func (m *Market) adjustHeld(j *store.Journal, delta decimal.Decimal) {
	next := m.meta
	next.HeldFunds = next.HeldFunds.Add(delta)
	m.setMeta(j, next)
}

// reward runs a best-effort mint. Failures are logged and reported in the
// outcome, never returned.
func (m *Market) reward(ctx context.Context, key models.RewardKey, recipient models.Address, mint func(RewardHooks) (*models.RewardGrant, error)) (out *models.RewardOutcome) {
	out = &models.RewardOutcome{Key: key}
	if m.rewards == nil {
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			out.Grant = nil
			out.Err = fmt.Errorf("marketplace: reward hook panicked: %v", r)
		}
		if out.Err != nil {
			logging.LogRewardFailure(out.Err, string(key.Activity), recipient.String(), key.Instance)
			monitoring.RecordRewardFailure(string(key.Activity))
		}
	}()
	out.Grant, out.Err = mint(m.rewards)
	return out
}
