// Package marketplace is the course marketplace ledger: the course
// registry, the purchase and refund state machine, creator balances and
// withdrawals.
//
// Every entry point runs under a single transition lock. Guards run
// first, then in-memory mutation recorded on a journal, then one store
// write, then the outbound payment. A failed payment reverts the whole
// transition. Rewards are minted after the lock is released and never
// undo the transition that triggered them.
package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/bank"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/store"
	"github.com/aimerfeng/CourseChain/internal/txlock"
)

// Source names the marketplace in events and store buckets
const Source = "market"

const (
	bucketCourses   = "market:courses"
	bucketPurchases = "market:purchases"
	bucketBalances  = "market:balances"
	bucketMeta      = "market:meta"
	metaKey         = "state"
)

// DefaultRefundWindow is the refund eligibility period after purchase
const DefaultRefundWindow = 30 * 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// RewardHooks is the reward token surface the marketplace calls into
type RewardHooks interface {
	RewardCoursePurchase(ctx context.Context, caller, buyer models.Address, courseID uint64) (*models.RewardGrant, error)
	RewardCourseCompletion(ctx context.Context, caller, buyer models.Address, courseID uint64) (*models.RewardGrant, error)
	RewardContentCreation(ctx context.Context, caller, creator models.Address, courseID uint64) (*models.RewardGrant, error)
}

// Options configures a Market
type Options struct {
	// Address is the marketplace's own account, used as the reward caller
	Address       models.Address
	FeePercent    int64
	MaxFeePercent int64
	RefundWindow  time.Duration
	Treasury      models.Address
}

type meta struct {
	NextCourseID uint64          `json:"next_course_id"`
	HeldFunds    decimal.Decimal `json:"held_funds"`
	FeePercent   int64           `json:"fee_percent"`
	Treasury     models.Address  `json:"treasury"`
}

// Market is the marketplace ledger
type Market struct {
	addr          models.Address
	maxFeePercent int64
	refundWindow  time.Duration

	store   store.Store
	gate    *access.Gate
	bank    bank.Transferer
	rewards RewardHooks
	events  access.Publisher
	lock    txlock.Lock
	now     func() time.Time
	logger  zerolog.Logger

	// guarded by lock
	courses   map[uint64]*models.Course
	purchases map[string]*models.Purchase
	balances  map[models.Address]decimal.Decimal
	meta      meta
}

// New loads the marketplace from s. rewards may be nil, in which case no
// rewards are minted.
func New(ctx context.Context, s store.Store, gate *access.Gate, transferer bank.Transferer, rewards RewardHooks, events access.Publisher, opts Options) (*Market, error) {
	if opts.Address.IsZero() {
		return nil, fmt.Errorf("marketplace: own address is required: %w", models.ErrInvalidAddress)
	}
	if opts.MaxFeePercent <= 0 || opts.MaxFeePercent > 100 {
		return nil, fmt.Errorf("marketplace: max fee percent %d out of range: %w", opts.MaxFeePercent, ErrFeeTooHigh)
	}
	if opts.FeePercent < 0 || opts.FeePercent > opts.MaxFeePercent {
		return nil, ErrFeeTooHigh
	}
	if opts.RefundWindow <= 0 {
		opts.RefundWindow = DefaultRefundWindow
	}
	m := &Market{
		addr:          opts.Address,
		maxFeePercent: opts.MaxFeePercent,
		refundWindow:  opts.RefundWindow,
		store:         s,
		gate:          gate,
		bank:          transferer,
		rewards:       rewards,
		events:        events,
		now:           time.Now,
		logger:        logging.NewLogger("marketplace"),
		courses:       make(map[uint64]*models.Course),
		purchases:     make(map[string]*models.Purchase),
		balances:      make(map[models.Address]decimal.Decimal),
		meta: meta{
			NextCourseID: 1,
			HeldFunds:    decimal.Zero,
			FeePercent:   opts.FeePercent,
			Treasury:     opts.Treasury,
		},
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Market) load(ctx context.Context) error {
	err := m.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.Get(bucketMeta, metaKey, &m.meta); err != nil {
			return err
		}
		err := tx.ForEach(bucketCourses, func(_ string, raw []byte) error {
			var c models.Course
			if err := store.Decode(raw, &c); err != nil {
				return err
			}
			m.courses[c.ID] = &c
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.ForEach(bucketPurchases, func(key string, raw []byte) error {
			var p models.Purchase
			if err := store.Decode(raw, &p); err != nil {
				return err
			}
			m.purchases[key] = &p
			return nil
		})
		if err != nil {
			return err
		}
		return tx.ForEach(bucketBalances, func(key string, raw []byte) error {
			var bal decimal.Decimal
			if err := store.Decode(raw, &bal); err != nil {
				return err
			}
			m.balances[models.Address(key)] = bal
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("marketplace: load state: %w", err)
	}
	return nil
}

// Address returns the marketplace's own account
func (m *Market) Address() models.Address { return m.addr }

// Gate returns the marketplace access gate
func (m *Market) Gate() *access.Gate { return m.gate }

// SetClock overrides the ledger clock
func (m *Market) SetClock(now func() time.Time) { m.now = now }

// RefundWindow returns the refund eligibility period
func (m *Market) RefundWindow() time.Duration { return m.refundWindow }

func purchaseKey(courseID uint64, buyer models.Address) string {
	return store.Uint64Key(courseID) + "/" + string(buyer)
}

// split divides price by the current fee percent, rounding the fee down.
func (m *Market) split(price decimal.Decimal) models.FeeSplit {
	fee, _ := price.Mul(decimal.NewFromInt(m.meta.FeePercent)).QuoRem(hundred, 0)
	return models.FeeSplit{
		Price:         price,
		PlatformFee:   fee,
		CreatorAmount: price.Sub(fee),
	}
}

// creatorTotal is the sum of all creator balances.
func (m *Market) creatorTotal() decimal.Decimal {
	total := decimal.Zero
	for _, bal := range m.balances {
		total = total.Add(bal)
	}
	return total
}

// platformBalance is what the contract holds beyond creator balances.
func (m *Market) platformBalance() decimal.Decimal {
	return m.meta.HeldFunds.Sub(m.creatorTotal())
}

func (m *Market) event(typ models.EventType, attrs map[string]string) models.Event {
	return models.NewEvent(Source, typ, m.now().UTC(), attrs)
}

func (m *Market) publish(ctx context.Context, evs ...models.Event) {
	if m.events != nil && len(evs) > 0 {
		m.events.Publish(ctx, evs...)
	}
}

func wholeAmount(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(0))
}
