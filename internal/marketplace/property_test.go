package marketplace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/aimerfeng/CourseChain/internal/models"
)

func fmtAddr(i int) string {
	return fmt.Sprintf("0x%040x", i)
}

// TestProperty_FeeSplitConserves checks that the fee split always adds up
// to the price and rounds the fee down.
func TestProperty_FeeSplitConserves(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		pct := rapid.Int64Range(0, 30).Draw(t, "pct")
		price := decimal.NewFromInt(rapid.Int64Range(1, 1_000_000_000).Draw(t, "price"))
		// Scale into token-sized integers beyond int64.
		price = price.Shift(int32(rapid.IntRange(0, 20).Draw(t, "shift")))
		f.market.meta.FeePercent = pct

		split := f.market.split(price)
		if !split.PlatformFee.Add(split.CreatorAmount).Equal(price) {
			t.Fatalf("PROPERTY VIOLATION: %s + %s != %s", split.PlatformFee, split.CreatorAmount, price)
		}
		if split.PlatformFee.IsNegative() || !wholeAmount(split.PlatformFee) {
			t.Fatalf("PROPERTY VIOLATION: fee %s is not a non-negative whole amount", split.PlatformFee)
		}
		exact := price.Mul(decimal.NewFromInt(pct)).Div(hundred)
		if split.PlatformFee.GreaterThan(exact) || exact.Sub(split.PlatformFee).GreaterThanOrEqual(decimal.NewFromInt(1)) {
			t.Fatalf("PROPERTY VIOLATION: fee %s is not floor(%s)", split.PlatformFee, exact)
		}
	})
}

// TestProperty_LedgerInvariants drives random operation sequences and
// checks after every step that creator balances never exceed held funds,
// that value is conserved, that no purchase is refunded twice and that
// failed operations change nothing.
func TestProperty_LedgerInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		creators := []models.Address{creator, creator2}
		buyers := []models.Address{buyer, buyer2, buyer3}

		var courses []uint64
		paidIn := decimal.Zero
		refunds := make(map[string]int)

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := f.snapshot()
			var err error
			op := rapid.IntRange(0, 9).Draw(t, "op")
			switch op {
			case 0:
				owner := rapid.SampledFrom(creators).Draw(t, "creator")
				price := rapid.Int64Range(1, 500).Draw(t, "price")
				var res *CreateCourseResult
				res, err = f.market.CreateCourse(ctx, owner, courseInput(price))
				if err == nil {
					courses = append(courses, res.Course.ID)
				}
			case 1, 2:
				if len(courses) == 0 {
					continue
				}
				id := rapid.SampledFrom(courses).Draw(t, "course")
				who := rapid.SampledFrom(buyers).Draw(t, "buyer")
				payment := rapid.Int64Range(0, 600).Draw(t, "payment")
				var res *PurchaseResult
				res, err = f.market.PurchaseCourse(ctx, who, id, d(payment))
				if err == nil {
					paidIn = paidIn.Add(d(payment))
					if !res.Split.Price.Add(res.Overpayment).Equal(d(payment)) {
						t.Fatalf("PROPERTY VIOLATION: price %s + overpayment %s != payment %d", res.Split.Price, res.Overpayment, payment)
					}
				}
			case 3:
				if len(courses) == 0 {
					continue
				}
				id := rapid.SampledFrom(courses).Draw(t, "course")
				_, err = f.market.CompleteCourse(ctx, rapid.SampledFrom(buyers).Draw(t, "buyer"), id)
			case 4:
				if len(courses) == 0 {
					continue
				}
				id := rapid.SampledFrom(courses).Draw(t, "course")
				_, err = f.market.RequestRefund(ctx, rapid.SampledFrom(buyers).Draw(t, "buyer"), id)
			case 5:
				if len(courses) == 0 {
					continue
				}
				id := rapid.SampledFrom(courses).Draw(t, "course")
				who := rapid.SampledFrom(buyers).Draw(t, "buyer")
				_, err = f.market.ProcessRefund(ctx, admin, who, id)
				if err == nil {
					refunds[purchaseKey(id, who)]++
				}
			case 6:
				_, err = f.market.CreatorWithdraw(ctx, rapid.SampledFrom(creators).Draw(t, "creator"))
			case 7:
				_, err = f.market.OwnerWithdraw(ctx, admin)
			case 8:
				err = f.market.ChangePlatformFee(ctx, admin, rapid.Int64Range(0, 40).Draw(t, "fee"))
			case 9:
				f.clock.advance(time.Duration(rapid.IntRange(1, 20).Draw(t, "days")) * day)
				continue
			}

			if err != nil {
				if models.KindOf(err) == nil {
					t.Fatalf("PROPERTY VIOLATION: op %d failed outside the error taxonomy: %v", op, err)
				}
				if after := f.snapshot(); fmt.Sprint(after) != fmt.Sprint(before) {
					t.Fatalf("PROPERTY VIOLATION: failed op %d mutated state: %v -> %v", op, before, after)
				}
			}

			held := f.market.HeldFunds(ctx)
			total := f.market.TotalCreatorBalances(ctx)
			if total.GreaterThan(held) {
				t.Fatalf("PROPERTY VIOLATION: creator balances %s exceed held funds %s", total, held)
			}
			for _, c := range creators {
				if f.market.CreatorBalance(ctx, c).IsNegative() {
					t.Fatalf("PROPERTY VIOLATION: negative balance for %s", c)
				}
			}
			paidOut := decimal.Zero
			for _, tr := range f.bank.Transfers() {
				paidOut = paidOut.Add(tr.Amount)
			}
			if !paidIn.Equal(held.Add(paidOut)) {
				t.Fatalf("PROPERTY VIOLATION: paid in %s != held %s + paid out %s", paidIn, held, paidOut)
			}
			for key, n := range refunds {
				if n > 1 {
					t.Fatalf("PROPERTY VIOLATION: purchase %s refunded %d times", key, n)
				}
			}
		}
	})
}
