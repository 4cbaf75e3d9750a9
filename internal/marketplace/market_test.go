package marketplace

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/bank"
	"github.com/aimerfeng/CourseChain/internal/events"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/store"
)

func TestCreateCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.market.CreateCourse(ctx, creator, courseInput(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Course.ID)
	assert.True(t, res.Course.IsActive)
	assert.Equal(t, creator, res.Course.Creator)
	assert.Equal(t, "QmContentHash", res.Course.ContentHash)
	assert.Equal(t, uint32(12), res.Course.ModuleCount)

	require.True(t, res.Reward.Minted())
	assert.True(t, f.rewards.BalanceOf(ctx, creator).Equal(d(100)))

	second := f.createCourse(t, creator, 50)
	assert.Equal(t, uint64(2), second)
	assert.Equal(t, 2, f.count(models.EventCourseCreated))
}

func TestCreateCourse_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	zero := courseInput(0)
	_, err := f.market.CreateCourse(ctx, creator, zero)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.ErrorIs(t, err, models.KindInvalidInput)

	fractional := courseInput(1)
	fractional.Price = decimal.RequireFromString("1.5")
	_, err = f.market.CreateCourse(ctx, creator, fractional)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	untitled := courseInput(10)
	untitled.Title = "  "
	_, err = f.market.CreateCourse(ctx, creator, untitled)
	assert.ErrorIs(t, err, ErrMissingTitle)

	empty := courseInput(10)
	empty.ContentHash = ""
	_, err = f.market.CreateCourse(ctx, creator, empty)
	assert.ErrorIs(t, err, ErrMissingContent)

	_, err = f.market.CreateCourse(ctx, models.ZeroAddress, courseInput(10))
	assert.ErrorIs(t, err, models.ErrInvalidAddress)

	assert.Empty(t, f.market.ListCourses(ctx, false))
	assert.Zero(t, f.count(models.EventCourseCreated))
}

func TestUpdateCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	_, err := f.market.UpdateCourse(ctx, buyer, id, courseInput(120))
	assert.ErrorIs(t, err, ErrNotCreator)
	assert.ErrorIs(t, err, models.KindForbidden)

	_, err = f.market.UpdateCourse(ctx, creator, id, courseInput(0))
	assert.ErrorIs(t, err, models.KindInvalidInput)

	_, err = f.market.UpdateCourse(ctx, creator, 99, courseInput(10))
	assert.ErrorIs(t, err, models.KindNotFound)

	in := courseInput(120)
	in.Title = "Distributed Systems II"
	c, err := f.market.UpdateCourse(ctx, creator, id, in)
	require.NoError(t, err)
	assert.True(t, c.Price.Equal(d(120)))
	assert.Equal(t, "Distributed Systems II", c.Title)
	assert.Equal(t, 1, f.count(models.EventCourseUpdated))
}

func TestDelistCourse_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	_, err := f.market.DelistCourse(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrNotCreator)

	c, err := f.market.DelistCourse(ctx, creator, id)
	require.NoError(t, err)
	assert.False(t, c.IsActive)
	_, err = f.market.DelistCourse(ctx, creator, id)
	require.NoError(t, err)
	_, err = f.market.DelistCourse(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(models.EventCourseDelisted))

	_, err = f.market.PurchaseCourse(ctx, buyer, id, d(100))
	assert.ErrorIs(t, err, ErrInactiveCourse)

	// Relisting goes through update.
	active := true
	in := courseInput(100)
	in.IsActive = &active
	_, err = f.market.UpdateCourse(ctx, creator, id, in)
	require.NoError(t, err)
	f.buy(t, buyer, id, 100)
}

func TestPurchase_FeeSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	res := f.buy(t, buyer, id, 100)
	assert.True(t, res.Split.PlatformFee.Equal(d(5)))
	assert.True(t, res.Split.CreatorAmount.Equal(d(95)))
	assert.True(t, res.Overpayment.IsZero())
	assert.Equal(t, models.PurchaseStatePurchased, res.Purchase.State())
	assert.Equal(t, t0, res.Purchase.PurchaseDate)

	assert.True(t, f.market.CreatorBalance(ctx, creator).Equal(d(95)))
	assert.True(t, f.market.PlatformBalance(ctx).Equal(d(5)))
	assert.True(t, f.market.HeldFunds(ctx).Equal(d(100)))

	c, err := f.market.GetCourse(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.TotalSales)
	assert.Equal(t, uint64(1), c.EnrolledUsers)
	assert.True(t, c.TotalRevenue.Equal(d(100)))

	require.True(t, res.Reward.Minted())
	assert.True(t, f.rewards.BalanceOf(ctx, buyer).Equal(d(10)))
	assert.Equal(t, 1, f.count(models.EventCoursePurchased))
	assert.True(t, f.market.HasPurchased(ctx, buyer, id))
}

func TestPurchase_FeeRoundsDown(t *testing.T) {
	f := newFixture(t)
	id := f.createCourse(t, creator, 99)

	res := f.buy(t, buyer, id, 99)
	assert.True(t, res.Split.PlatformFee.Equal(d(4)))
	assert.True(t, res.Split.CreatorAmount.Equal(d(95)))
}

func TestPurchase_OverpaymentReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	res := f.buy(t, buyer, id, 130)
	assert.True(t, res.Overpayment.Equal(d(30)))
	assert.True(t, f.bank.BalanceOf(buyer).Equal(d(30)))
	assert.True(t, f.market.HeldFunds(ctx).Equal(d(100)))
}

func TestPurchase_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	_, err := f.market.PurchaseCourse(ctx, buyer, 42, d(100))
	assert.ErrorIs(t, err, ErrCourseNotFound)
	assert.ErrorIs(t, err, models.KindNotFound)

	_, err = f.market.PurchaseCourse(ctx, buyer, id, d(99))
	assert.ErrorIs(t, err, ErrInsufficientPayment)
	assert.ErrorIs(t, err, models.KindInsufficientFunds)

	_, err = f.market.PurchaseCourse(ctx, buyer, id, d(-1))
	assert.ErrorIs(t, err, models.KindInvalidInput)

	f.buy(t, buyer, id, 100)
	before := f.snapshot()
	_, err = f.market.PurchaseCourse(ctx, buyer, id, d(100))
	assert.ErrorIs(t, err, ErrAlreadyPurchased)
	assert.ErrorIs(t, err, models.KindConflict)
	assert.Equal(t, before, f.snapshot())
}

func TestPurchase_Paused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	require.NoError(t, f.market.Gate().Pause(ctx, admin))

	_, err := f.market.PurchaseCourse(ctx, buyer, id, d(100))
	assert.ErrorIs(t, err, models.KindPaused)
	_, err = f.market.CreateCourse(ctx, creator, courseInput(10))
	assert.ErrorIs(t, err, models.KindPaused)
	_, err = f.market.CreatorWithdraw(ctx, creator)
	assert.ErrorIs(t, err, models.KindPaused)

	// Admin operations keep working while paused.
	require.NoError(t, f.market.ChangePlatformFee(ctx, admin, 10))

	require.NoError(t, f.market.Gate().Unpause(ctx, admin))
	f.buy(t, buyer, id, 100)
}

func TestRefund_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)
	f.buy(t, buyer2, id, 100)

	f.clock.advance(29 * day)
	p, err := f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStateRefundRequested, p.State())

	f.clock.advance(2 * day)
	_, err = f.market.RequestRefund(ctx, buyer2, id)
	assert.ErrorIs(t, err, ErrRefundWindowExpired)
	assert.ErrorIs(t, err, models.KindWindowExpired)
}

func TestRefund_WindowBoundaryInclusive(t *testing.T) {
	f := newFixture(t)
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)

	f.clock.advance(30 * day)
	_, err := f.market.RequestRefund(context.Background(), buyer, id)
	assert.NoError(t, err)
}

func TestRefund_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)

	_, err := f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)
	_, err = f.market.RequestRefund(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrAlreadyRequested)
	assert.Len(t, f.market.PendingRefunds(ctx), 1)

	p, err := f.market.ProcessRefund(ctx, admin, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStateRefunded, p.State())
	require.NotNil(t, p.RefundedDate)

	assert.True(t, f.bank.BalanceOf(buyer).Equal(d(100)))
	assert.True(t, f.market.CreatorBalance(ctx, creator).IsZero())
	assert.True(t, f.market.HeldFunds(ctx).IsZero())
	assert.True(t, f.market.PlatformBalance(ctx).IsZero())
	assert.False(t, f.market.HasPurchased(ctx, buyer, id))
	assert.Empty(t, f.market.PendingRefunds(ctx))

	c, err := f.market.GetCourse(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, c.TotalSales)
	assert.Zero(t, c.EnrolledUsers)
	assert.True(t, c.TotalRevenue.IsZero())

	_, err = f.market.ProcessRefund(ctx, admin, buyer, id)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	_, err = f.market.RequestRefund(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	_, err = f.market.CompleteCourse(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	_, err = f.market.PurchaseCourse(ctx, buyer, id, d(100))
	assert.ErrorIs(t, err, ErrAlreadyPurchased)

	assert.Equal(t, 1, f.count(models.EventRefundProcessed))
}

func TestRefund_UsesPricePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)

	_, err := f.market.UpdateCourse(ctx, creator, id, courseInput(300))
	require.NoError(t, err)
	require.NoError(t, f.market.ChangePlatformFee(ctx, admin, 20))

	_, err = f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)
	_, err = f.market.ProcessRefund(ctx, admin, buyer, id)
	require.NoError(t, err)

	assert.True(t, f.bank.BalanceOf(buyer).Equal(d(100)))
	assert.True(t, f.market.CreatorBalance(ctx, creator).IsZero())
	assert.True(t, f.market.HeldFunds(ctx).IsZero())
}

func TestProcessRefund_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	_, err := f.market.ProcessRefund(ctx, admin, buyer, id)
	assert.ErrorIs(t, err, ErrNotPurchased)

	f.buy(t, buyer, id, 100)
	_, err = f.market.ProcessRefund(ctx, admin, buyer, id)
	assert.ErrorIs(t, err, ErrNoRequestPending)

	_, err = f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)
	_, err = f.market.ProcessRefund(ctx, buyer, buyer, id)
	assert.ErrorIs(t, err, models.KindForbidden)

	// A dedicated refund manager may process.
	require.NoError(t, f.market.Gate().Grant(ctx, admin, access.RoleRefundManager, buyer3))
	_, err = f.market.ProcessRefund(ctx, buyer3, buyer, id)
	assert.NoError(t, err)
}

func TestProcessRefund_InsufficientCreatorBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)
	_, err := f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)

	amount, err := f.market.CreatorWithdraw(ctx, creator)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d(95)))

	before := f.snapshot()
	_, err = f.market.ProcessRefund(ctx, admin, buyer, id)
	assert.ErrorIs(t, err, ErrInsufficientCreatorBalance)
	assert.ErrorIs(t, err, models.KindInsufficientFunds)
	assert.Equal(t, before, f.snapshot())

	p, err := f.market.GetPurchase(ctx, buyer, id)
	require.NoError(t, err)
	assert.False(t, p.Refunded)
}

func TestProcessRefund_InsufficientPlatformFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)
	_, err := f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)

	_, err = f.market.OwnerWithdraw(ctx, admin)
	require.NoError(t, err)

	_, err = f.market.ProcessRefund(ctx, admin, buyer, id)
	assert.ErrorIs(t, err, ErrInsufficientPlatformFunds)
	assert.True(t, f.market.CreatorBalance(ctx, creator).Equal(d(95)))
}

func TestCompleteCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	_, err := f.market.CompleteCourse(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrNotPurchased)

	f.buy(t, buyer, id, 100)
	f.clock.advance(3 * day)
	res, err := f.market.CompleteCourse(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStateCompleted, res.Purchase.State())
	require.NotNil(t, res.Purchase.CompletedDate)
	assert.Equal(t, t0.Add(3*day), *res.Purchase.CompletedDate)
	require.True(t, res.Reward.Minted())
	assert.True(t, f.rewards.BalanceOf(ctx, buyer).Equal(d(60)))

	_, err = f.market.CompleteCourse(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	_, err = f.market.RequestRefund(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrCourseCompleted)
}

func TestCompleteCourse_RefundPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)
	_, err := f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)

	_, err = f.market.CompleteCourse(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrRefundPending)
	assert.ErrorIs(t, err, models.KindConflict)
}

func TestCreatorWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)
	f.buy(t, buyer2, id, 100)

	amount, err := f.market.CreatorWithdraw(ctx, creator)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d(190)))
	assert.True(t, f.bank.BalanceOf(creator).Equal(d(190)))
	assert.True(t, f.market.CreatorBalance(ctx, creator).IsZero())
	assert.True(t, f.market.HeldFunds(ctx).Equal(d(10)))

	_, err = f.market.CreatorWithdraw(ctx, creator)
	assert.ErrorIs(t, err, ErrNothingToWithdraw)
	assert.ErrorIs(t, err, models.KindInsufficientFunds)
	assert.Equal(t, 1, f.count(models.EventCreatorWithdrawal))
}

func TestOwnerWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)

	_, err := f.market.OwnerWithdraw(ctx, creator)
	assert.ErrorIs(t, err, models.KindForbidden)

	amount, err := f.market.OwnerWithdraw(ctx, admin)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d(5)))
	assert.True(t, f.bank.BalanceOf(treasury).Equal(d(5)))
	assert.True(t, f.market.CreatorBalance(ctx, creator).Equal(d(95)))

	_, err = f.market.OwnerWithdraw(ctx, admin)
	assert.ErrorIs(t, err, ErrNothingToWithdraw)
}

func TestChangePlatformFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.market.ChangePlatformFee(ctx, creator, 10), models.KindForbidden)
	assert.ErrorIs(t, f.market.ChangePlatformFee(ctx, admin, 31), ErrFeeTooHigh)
	assert.ErrorIs(t, f.market.ChangePlatformFee(ctx, admin, -1), ErrFeeTooHigh)

	require.NoError(t, f.market.ChangePlatformFee(ctx, admin, 10))
	require.NoError(t, f.market.ChangePlatformFee(ctx, admin, 10))
	assert.Equal(t, int64(10), f.market.PlatformFeePercent(ctx))
	assert.Equal(t, 1, f.count(models.EventPlatformFeeChanged))

	id := f.createCourse(t, creator, 100)
	res := f.buy(t, buyer, id, 100)
	assert.True(t, res.Split.PlatformFee.Equal(d(10)))
	assert.True(t, res.Split.CreatorAmount.Equal(d(90)))
}

func TestTransferFailure_RollsBackWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)

	f.bank.Reject(creator, true)
	before := f.snapshot()
	_, err := f.market.CreatorWithdraw(ctx, creator)
	require.ErrorIs(t, err, bank.ErrTransferRejected)
	assert.Nil(t, models.KindOf(err))
	assert.Equal(t, before, f.snapshot())
	assert.Zero(t, f.count(models.EventCreatorWithdrawal))

	// The persisted state was reverted too.
	reloaded := f.open(t, nil)
	assert.True(t, reloaded.CreatorBalance(ctx, creator).Equal(d(95)))
	assert.True(t, reloaded.HeldFunds(ctx).Equal(d(100)))

	f.bank.Reject(creator, false)
	amount, err := f.market.CreatorWithdraw(ctx, creator)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d(95)))
}

func TestTransferFailure_RollsBackPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	f.bank.Reject(buyer, true)
	before := f.snapshot()
	_, err := f.market.PurchaseCourse(ctx, buyer, id, d(150))
	require.Error(t, err)
	assert.Equal(t, before, f.snapshot())
	assert.False(t, f.market.HasPurchased(ctx, buyer, id))
	assert.True(t, f.rewards.BalanceOf(ctx, buyer).IsZero())

	reloaded := f.open(t, nil)
	_, err = reloaded.GetPurchase(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrNotPurchased)
}

func TestReentrantCall_FromTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)

	var inner error
	var observed decimal.Decimal
	f.onTransfer = func(ctx context.Context, to models.Address, _ decimal.Decimal) error {
		observed = f.market.CreatorBalance(ctx, creator)
		_, inner = f.market.CreatorWithdraw(ctx, to)
		return nil
	}

	amount, err := f.market.CreatorWithdraw(ctx, creator)
	require.NoError(t, err)
	assert.True(t, amount.Equal(d(95)))
	assert.ErrorIs(t, inner, models.ErrReentrantCall)
	assert.True(t, observed.IsZero())
	assert.True(t, f.bank.BalanceOf(creator).Equal(d(95)))
}

// reentrantHooks calls back into the marketplace from the reward hook.
type reentrantHooks struct {
	market *Market
	seen   *models.Purchase
	err    error
}

func (h *reentrantHooks) RewardCoursePurchase(ctx context.Context, _, buyer models.Address, courseID uint64) (*models.RewardGrant, error) {
	h.seen, h.err = h.market.GetPurchase(ctx, buyer, courseID)
	return nil, h.err
}

func (h *reentrantHooks) RewardCourseCompletion(context.Context, models.Address, models.Address, uint64) (*models.RewardGrant, error) {
	panic("completion hook exploded")
}

func (h *reentrantHooks) RewardContentCreation(context.Context, models.Address, models.Address, uint64) (*models.RewardGrant, error) {
	return nil, errors.New("token offline")
}

func TestRewardFailure_DoesNotBlockTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hooks := &reentrantHooks{}
	f.market = f.open(t, hooks)
	hooks.market = f.market

	created, err := f.market.CreateCourse(ctx, creator, courseInput(100))
	require.NoError(t, err)
	assert.False(t, created.Reward.Minted())
	assert.EqualError(t, created.Reward.Err, "token offline")
	id := created.Course.ID

	res, err := f.market.PurchaseCourse(ctx, buyer, id, d(100))
	require.NoError(t, err)
	require.NoError(t, hooks.err)
	require.NotNil(t, hooks.seen)
	assert.Equal(t, models.PurchaseStatePurchased, hooks.seen.State())
	assert.NoError(t, res.Reward.Err)
	assert.True(t, f.market.HasPurchased(ctx, buyer, id))

	done, err := f.market.CompleteCourse(ctx, buyer, id)
	require.NoError(t, err)
	require.Error(t, done.Reward.Err)
	assert.Contains(t, done.Reward.Err.Error(), "panicked")
	assert.Equal(t, models.PurchaseStateCompleted, done.Purchase.State())
}

func TestRewardFailure_TokenPaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	require.NoError(t, f.rewards.Gate().Pause(ctx, admin))

	res := f.buy(t, buyer, id, 100)
	assert.False(t, res.Reward.Minted())
	assert.ErrorIs(t, res.Reward.Err, models.KindPaused)
	assert.True(t, f.market.CreatorBalance(ctx, creator).Equal(d(95)))
	assert.True(t, f.rewards.BalanceOf(ctx, buyer).IsZero())
}

func TestMarket_ReloadFromBolt(t *testing.T) {
	s, err := store.OpenBolt(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	defer s.Close()

	f := newFixtureWithStore(t, s)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)
	_, err = f.market.RequestRefund(ctx, buyer, id)
	require.NoError(t, err)
	require.NoError(t, f.market.ChangePlatformFee(ctx, admin, 12))

	reloaded := f.open(t, f.rewards)
	c, err := reloaded.GetCourse(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.TotalSales)
	assert.True(t, reloaded.CreatorBalance(ctx, creator).Equal(d(95)))
	assert.True(t, reloaded.HeldFunds(ctx).Equal(d(100)))
	assert.Equal(t, int64(12), reloaded.PlatformFeePercent(ctx))
	assert.Equal(t, treasury, reloaded.Treasury(ctx))

	p, err := reloaded.GetPurchase(ctx, buyer, id)
	require.NoError(t, err)
	assert.True(t, p.RefundRequested)
	assert.True(t, p.PricePaid.Equal(d(100)))

	next, err := reloaded.CreateCourse(ctx, creator2, courseInput(40))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Course.ID)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createCourse(t, creator, 100)
	b := f.createCourse(t, creator2, 50)
	c := f.createCourse(t, creator, 10)
	_, err := f.market.DelistCourse(ctx, creator, c)
	require.NoError(t, err)

	assert.Len(t, f.market.ListCourses(ctx, false), 3)
	active := f.market.ListCourses(ctx, true)
	require.Len(t, active, 2)
	assert.Equal(t, a, active[0].ID)
	assert.Equal(t, b, active[1].ID)

	mine := f.market.CoursesByCreator(ctx, creator)
	require.Len(t, mine, 2)
	assert.Equal(t, c, mine[1].ID)

	f.buy(t, buyer, b, 50)
	f.buy(t, buyer, a, 100)
	f.buy(t, buyer2, a, 100)
	got := f.market.PurchasesByBuyer(ctx, buyer)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].CourseID)
	assert.Equal(t, b, got[1].CourseID)

	_, err = f.market.GetCourse(ctx, 77)
	assert.ErrorIs(t, err, ErrCourseNotFound)
	assert.True(t, f.market.TotalCreatorBalances(ctx).Equal(d(95+95+48)))
}

func TestSetTreasury(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := models.MustParseAddress("0x00000000000000000000000000000000000000ef")

	assert.ErrorIs(t, f.market.SetTreasury(ctx, creator, other), models.KindForbidden)
	assert.ErrorIs(t, f.market.SetTreasury(ctx, admin, models.ZeroAddress), models.ErrInvalidAddress)
	require.NoError(t, f.market.SetTreasury(ctx, admin, other))
	assert.Equal(t, other, f.market.Treasury(ctx))

	changed := f.rec.Events(events.Query{Type: models.EventTreasuryChanged})
	require.Len(t, changed, 1)
	assert.Equal(t, treasury.String(), changed[0].Attrs["old_treasury"])
	assert.Equal(t, other.String(), changed[0].Attrs["new_treasury"])
	assert.Equal(t, admin.String(), changed[0].Attrs["sender"])

	id := f.createCourse(t, creator, 100)
	f.buy(t, buyer, id, 100)
	_, err := f.market.OwnerWithdraw(ctx, admin)
	require.NoError(t, err)
	assert.True(t, f.bank.BalanceOf(other).Equal(d(5)))
}

func TestConcurrentPurchases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createCourse(t, creator, 100)

	buyers := make([]models.Address, 32)
	for i := range buyers {
		buyers[i] = models.MustParseAddress(fmtAddr(i + 1))
	}
	errs := make(chan error, len(buyers)*2)
	done := make(chan struct{})
	for _, b := range buyers {
		b := b
		go func() {
			defer func() { done <- struct{}{} }()
			// Each buyer races itself; exactly one attempt may win.
			for k := 0; k < 2; k++ {
				_, err := f.market.PurchaseCourse(ctx, b, id, d(100))
				errs <- err
			}
		}()
	}
	for range buyers {
		<-done
	}
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyPurchased):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, len(buyers), ok)
	assert.Equal(t, len(buyers), conflicts)

	c, err := f.market.GetCourse(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(buyers)), c.TotalSales)
	assert.True(t, f.market.HeldFunds(ctx).Equal(d(100*int64(len(buyers)))))
	assert.True(t, f.market.CreatorBalance(ctx, creator).Equal(d(95*int64(len(buyers)))))
}
