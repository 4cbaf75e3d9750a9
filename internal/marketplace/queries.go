package marketplace

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/models"
)

// GetPurchase returns buyer's purchase record for courseID
func (m *Market) GetPurchase(ctx context.Context, buyer models.Address, courseID uint64) (*models.Purchase, error) {
	var (
		p   *models.Purchase
		err error
	)
	m.lock.View(ctx, func() {
		found, ok := m.purchases[purchaseKey(courseID, buyer)]
		if !ok {
			err = ErrNotPurchased
			return
		}
		p = found.Clone()
	})
	return p, err
}

// HasPurchased reports whether buyer holds a non-refunded purchase of
// courseID
func (m *Market) HasPurchased(ctx context.Context, buyer models.Address, courseID uint64) bool {
	var ok bool
	m.lock.View(ctx, func() {
		p := m.purchases[purchaseKey(courseID, buyer)]
		ok = p != nil && !p.Refunded
	})
	return ok
}

// PurchasesByBuyer returns buyer's purchases in course order
func (m *Market) PurchasesByBuyer(ctx context.Context, buyer models.Address) []*models.Purchase {
	return m.filterPurchases(ctx, func(p *models.Purchase) bool { return p.Buyer == buyer })
}

// PendingRefunds returns all purchases awaiting refund processing
func (m *Market) PendingRefunds(ctx context.Context) []*models.Purchase {
	return m.filterPurchases(ctx, func(p *models.Purchase) bool {
		return p.State() == models.PurchaseStateRefundRequested
	})
}

func (m *Market) filterPurchases(ctx context.Context, keep func(*models.Purchase) bool) []*models.Purchase {
	type entry struct {
		key string
		p   *models.Purchase
	}
	var found []entry
	m.lock.View(ctx, func() {
		for key, p := range m.purchases {
			if keep(p) {
				found = append(found, entry{key: key, p: p.Clone()})
			}
		}
	})
	sort.Slice(found, func(i, k int) bool { return found[i].key < found[k].key })
	out := make([]*models.Purchase, len(found))
	for i, e := range found {
		out[i] = e.p
	}
	return out
}

// CreatorBalance returns creator's withdrawable balance
func (m *Market) CreatorBalance(ctx context.Context, creator models.Address) decimal.Decimal {
	var bal decimal.Decimal
	m.lock.View(ctx, func() { bal = m.balances[creator] })
	return bal
}

// TotalCreatorBalances returns the sum of all creator balances
func (m *Market) TotalCreatorBalances(ctx context.Context) decimal.Decimal {
	var total decimal.Decimal
	m.lock.View(ctx, func() { total = m.creatorTotal() })
	return total
}

// PlatformBalance returns the withdrawable platform fees
func (m *Market) PlatformBalance(ctx context.Context) decimal.Decimal {
	var bal decimal.Decimal
	m.lock.View(ctx, func() { bal = m.platformBalance() })
	return bal
}

// HeldFunds returns the value the marketplace currently holds
func (m *Market) HeldFunds(ctx context.Context) decimal.Decimal {
	var held decimal.Decimal
	m.lock.View(ctx, func() { held = m.meta.HeldFunds })
	return held
}

// PlatformFeePercent returns the fee percent applied to new purchases
func (m *Market) PlatformFeePercent(ctx context.Context) int64 {
	var pct int64
	m.lock.View(ctx, func() { pct = m.meta.FeePercent })
	return pct
}

// Treasury returns the platform withdrawal recipient
func (m *Market) Treasury(ctx context.Context) models.Address {
	var t models.Address
	m.lock.View(ctx, func() { t = m.meta.Treasury })
	return t
}
