package marketplace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/bank"
	"github.com/aimerfeng/CourseChain/internal/events"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/reward"
	"github.com/aimerfeng/CourseChain/internal/store"
)

var (
	admin      = models.MustParseAddress("0x00000000000000000000000000000000000000aa")
	creator    = models.MustParseAddress("0x00000000000000000000000000000000000000c1")
	creator2   = models.MustParseAddress("0x00000000000000000000000000000000000000c2")
	buyer      = models.MustParseAddress("0x00000000000000000000000000000000000000b1")
	buyer2     = models.MustParseAddress("0x00000000000000000000000000000000000000b2")
	buyer3     = models.MustParseAddress("0x00000000000000000000000000000000000000b3")
	marketAddr = models.MustParseAddress("0x00000000000000000000000000000000000000fe")
	treasury   = models.MustParseAddress("0x00000000000000000000000000000000000000ee")

	day = 24 * time.Hour
	t0  = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type testingT interface {
	require.TestingT
	Helper()
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(by time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(by)
}

type fixture struct {
	market  *Market
	rewards *reward.Ledger
	bank    *bank.Bank
	rec     *events.Recorder
	store   store.Store
	clock   *clock

	// onTransfer runs before every payout; a non-nil error fails it.
	onTransfer func(ctx context.Context, to models.Address, amount decimal.Decimal) error
}

func newFixture(t testingT) *fixture {
	return newFixtureWithStore(t, store.NewMemory())
}

func newFixtureWithStore(t testingT, s store.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		bank:  bank.New(),
		rec:   events.NewRecorder(0),
		store: s,
		clock: &clock{t: t0},
	}

	tokenGate, err := access.NewGate(ctx, reward.Source, s, f.rec)
	require.NoError(t, err)
	require.NoError(t, tokenGate.Bootstrap(ctx, admin))
	require.NoError(t, tokenGate.Grant(ctx, admin, access.RoleRewardGranter, marketAddr))
	f.rewards, err = reward.New(ctx, s, tokenGate, f.rec, models.RewardRates{
		CoursePurchase:       d(10),
		CourseCompletion:     d(50),
		ContentCreation:      d(100),
		AssignmentCompletion: d(25),
	})
	require.NoError(t, err)
	f.rewards.SetClock(f.clock.now)

	f.market = f.open(t, f.rewards)
	return f
}

// open builds a market over the fixture's store, loading any saved state.
func (f *fixture) open(t testingT, hooks RewardHooks) *Market {
	t.Helper()
	ctx := context.Background()
	gate, err := access.NewGate(ctx, Source, f.store, f.rec)
	require.NoError(t, err)
	require.NoError(t, gate.Bootstrap(ctx, admin))

	transfer := bank.TransferFunc(func(ctx context.Context, to models.Address, amount decimal.Decimal) error {
		if f.onTransfer != nil {
			if err := f.onTransfer(ctx, to, amount); err != nil {
				return err
			}
		}
		return f.bank.Transfer(ctx, to, amount)
	})
	m, err := New(ctx, f.store, gate, transfer, hooks, f.rec, Options{
		Address:       marketAddr,
		FeePercent:    5,
		MaxFeePercent: 30,
		RefundWindow:  30 * day,
		Treasury:      treasury,
	})
	require.NoError(t, err)
	m.SetClock(f.clock.now)
	return m
}

func (f *fixture) createCourse(t testingT, owner models.Address, price int64) uint64 {
	t.Helper()
	res, err := f.market.CreateCourse(context.Background(), owner, courseInput(price))
	require.NoError(t, err)
	return res.Course.ID
}

func (f *fixture) buy(t testingT, who models.Address, id uint64, payment int64) *PurchaseResult {
	t.Helper()
	res, err := f.market.PurchaseCourse(context.Background(), who, id, d(payment))
	require.NoError(t, err)
	return res
}

func (f *fixture) count(typ models.EventType) int {
	return len(f.rec.Events(events.Query{Type: typ}))
}

func courseInput(price int64) CourseInput {
	return CourseInput{
		Price: d(price),
		CourseMeta: models.CourseMeta{
			Title:       "Distributed Systems",
			Description: "Consensus from first principles",
			ContentHash: "QmContentHash",
			ModuleCount: 12,
		},
	}
}

// snapshot captures the economic state compared by rollback tests.
type snapshot struct {
	held     string
	balances map[models.Address]string
	courses  map[uint64]string
	bankLog  int
}

func (f *fixture) snapshot() snapshot {
	ctx := context.Background()
	s := snapshot{
		held:     f.market.HeldFunds(ctx).String(),
		balances: make(map[models.Address]string),
		courses:  make(map[uint64]string),
		bankLog:  len(f.bank.Transfers()),
	}
	for _, a := range []models.Address{creator, creator2} {
		s.balances[a] = f.market.CreatorBalance(ctx, a).String()
	}
	for _, c := range f.market.ListCourses(ctx, false) {
		s.courses[c.ID] = fmt.Sprintf("%s/%s/%d/%d/%t", c.Price, c.TotalRevenue, c.TotalSales, c.EnrolledUsers, c.IsActive)
	}
	return s
}
