// Package reward is the platform reward token. Tokens are minted only by
// holders of the reward-granter role, once per reward key, at the rate
// configured for the activity.
package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/store"
	"github.com/aimerfeng/CourseChain/internal/txlock"
)

// Source names the reward ledger in events and store buckets
const Source = "reward"

const (
	bucketBalances = "reward:balances"
	bucketGrants   = "reward:grants"
	bucketMeta     = "reward:meta"
	metaKey        = "state"
)

// Reward ledger errors
var (
	ErrUnauthorized        = models.NewError(models.KindForbidden, "reward: caller may not grant rewards")
	ErrInvalidRecipient    = models.NewError(models.KindInvalidInput, "reward: invalid recipient")
	ErrAlreadyRewarded     = models.NewError(models.KindConflict, "reward: already rewarded")
	ErrInsufficientBalance = models.NewError(models.KindInsufficientFunds, "reward: insufficient balance")
	ErrInvalidRate         = models.NewError(models.KindInvalidInput, "reward: rates must be positive")
)

type meta struct {
	TotalSupply decimal.Decimal    `json:"total_supply"`
	Rates       models.RewardRates `json:"rates"`
}

// Ledger holds token balances and the set of rewards already granted
type Ledger struct {
	store  store.Store
	gate   *access.Gate
	events access.Publisher
	lock   txlock.Lock
	now    func() time.Time
	logger zerolog.Logger

	// guarded by lock
	balances map[models.Address]decimal.Decimal
	grants   map[string]*models.RewardGrant
	meta     meta
}

// New loads the reward ledger from s. defaults apply until the first
// UpdateRewardRates.
func New(ctx context.Context, s store.Store, gate *access.Gate, events access.Publisher, defaults models.RewardRates) (*Ledger, error) {
	if !validRates(defaults) {
		return nil, ErrInvalidRate
	}
	l := &Ledger{
		store:    s,
		gate:     gate,
		events:   events,
		now:      time.Now,
		logger:   logging.NewLogger("reward"),
		balances: make(map[models.Address]decimal.Decimal),
		grants:   make(map[string]*models.RewardGrant),
		meta:     meta{TotalSupply: decimal.Zero, Rates: defaults},
	}
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load(ctx context.Context) error {
	err := l.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.Get(bucketMeta, metaKey, &l.meta); err != nil {
			return err
		}
		err := tx.ForEach(bucketBalances, func(key string, raw []byte) error {
			var bal decimal.Decimal
			if err := store.Decode(raw, &bal); err != nil {
				return err
			}
			l.balances[models.Address(key)] = bal
			return nil
		})
		if err != nil {
			return err
		}
		return tx.ForEach(bucketGrants, func(key string, raw []byte) error {
			var g models.RewardGrant
			if err := store.Decode(raw, &g); err != nil {
				return err
			}
			l.grants[key] = &g
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("reward: load state: %w", err)
	}
	return nil
}

// SetClock overrides the ledger clock
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Gate returns the access gate of the token
func (l *Ledger) Gate() *access.Gate { return l.gate }

// commit persists j, undoing the in-memory mutations if the write fails.
func (l *Ledger) commit(ctx context.Context, j *store.Journal) error {
	if err := j.Commit(ctx, l.store); err != nil {
		l.logger.Error().Err(err).Int("writes", j.Dirty()).Msg("Failed to persist reward ledger transition")
		j.Rollback()
		return err
	}
	j.Discard()
	return nil
}

// credit adds amount to addr and registers the undo and the write on j.
func (l *Ledger) credit(j *store.Journal, addr models.Address, amount decimal.Decimal) {
	prev, had := l.balances[addr]
	j.OnRollback(func() {
		if had {
			l.balances[addr] = prev
		} else {
			delete(l.balances, addr)
		}
	})
	l.balances[addr] = prev.Add(amount)
	l.stageBalance(j, addr)
}

func (l *Ledger) debit(j *store.Journal, addr models.Address, amount decimal.Decimal) {
	prev := l.balances[addr]
	j.OnRollback(func() { l.balances[addr] = prev })
	l.balances[addr] = prev.Sub(amount)
	l.stageBalance(j, addr)
}

func (l *Ledger) stageBalance(j *store.Journal, addr models.Address) {
	j.Stage(bucketBalances, string(addr), func() any {
		bal, ok := l.balances[addr]
		if !ok || bal.IsZero() {
			return nil
		}
		return bal
	})
}

func (l *Ledger) setMeta(j *store.Journal, m meta) {
	prev := l.meta
	j.OnRollback(func() { l.meta = prev })
	l.meta = m
	j.Stage(bucketMeta, metaKey, func() any { return l.meta })
}

func (l *Ledger) publish(ctx context.Context, evs ...models.Event) {
	if l.events != nil {
		l.events.Publish(ctx, evs...)
	}
}

func (l *Ledger) event(typ models.EventType, attrs map[string]string) models.Event {
	return models.NewEvent(Source, typ, l.now().UTC(), attrs)
}

// validRates requires every rate to be a positive whole number of base
// units.
func validRates(r models.RewardRates) bool {
	for _, a := range models.Activities {
		if !wholePositive(r.For(a)) {
			return false
		}
	}
	return true
}

func positive(amount decimal.Decimal) access.Check {
	return access.FailIf(func() bool { return !wholePositive(amount) }, models.ErrInvalidAmount)
}

// wholePositive reports whether amount is a positive count of base units
func wholePositive(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(0))
}

