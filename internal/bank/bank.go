// Package bank moves native currency out of the marketplace. The ledger
// only ever pays out through a Transferer, after its own state is
// committed.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/models"
)

// ErrTransferRejected is returned when the recipient refuses a payout
var ErrTransferRejected = errors.New("bank: transfer rejected")

// Transferer pays amount to an address
type Transferer interface {
	Transfer(ctx context.Context, to models.Address, amount decimal.Decimal) error
}

// TransferFunc adapts a function to Transferer
type TransferFunc func(ctx context.Context, to models.Address, amount decimal.Decimal) error

func (f TransferFunc) Transfer(ctx context.Context, to models.Address, amount decimal.Decimal) error {
	return f(ctx, to, amount)
}

// Transfer is one completed payout
type Transfer struct {
	To     models.Address  `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	At     time.Time       `json:"at"`
}

// Bank is an in-process wallet book that records payouts. Recipients can
// be marked as rejecting to model accounts that cannot receive funds.
type Bank struct {
	mu        sync.Mutex
	balances  map[models.Address]decimal.Decimal
	transfers []Transfer
	rejecting map[models.Address]bool
	now       func() time.Time
}

// New creates an empty bank
func New() *Bank {
	return &Bank{
		balances:  make(map[models.Address]decimal.Decimal),
		rejecting: make(map[models.Address]bool),
		now:       time.Now,
	}
}

// Transfer credits amount to to.
func (b *Bank) Transfer(ctx context.Context, to models.Address, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.IsZero() {
		return fmt.Errorf("%w: null recipient", ErrTransferRejected)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount %s", ErrTransferRejected, amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejecting[to] {
		return fmt.Errorf("%w: %s does not accept payments", ErrTransferRejected, to)
	}
	b.balances[to] = b.balances[to].Add(amount)
	b.transfers = append(b.transfers, Transfer{To: to, Amount: amount, At: b.now().UTC()})
	return nil
}

// Reject makes subsequent transfers to addr fail (or succeed again).
func (b *Bank) Reject(addr models.Address, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reject {
		b.rejecting[addr] = true
	} else {
		delete(b.rejecting, addr)
	}
}

// BalanceOf returns everything paid to addr
func (b *Bank) BalanceOf(addr models.Address) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[addr]
}

// Transfers returns the payout history
func (b *Bank) Transfers() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Transfer(nil), b.transfers...)
}
