package reward

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/aimerfeng/CourseChain/internal/models"
)

// TestProperty_SupplyMatchesBalances checks that any sequence of mints,
// burns and transfers keeps total supply equal to the sum of balances and
// never mints a key twice.
func TestProperty_SupplyMatchesBalances(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		accounts := []models.Address{alice, bob, granter}
		minted := make(map[string]bool)

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			who := rapid.SampledFrom(accounts).Draw(t, "who")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				id := rapid.Uint64Range(1, 4).Draw(t, "id")
				activity := rapid.SampledFrom(models.Activities).Draw(t, "activity")
				var key models.RewardKey
				var err error
				switch activity {
				case models.ActivityCoursePurchase:
					key = models.PurchaseRewardKey(id, who)
					_, err = f.ledger.RewardCoursePurchase(ctx, granter, who, id)
				case models.ActivityCourseCompletion:
					key = models.CompletionRewardKey(id, who)
					_, err = f.ledger.RewardCourseCompletion(ctx, granter, who, id)
				case models.ActivityContentCreation:
					key = models.ContentRewardKey(id)
					_, err = f.ledger.RewardContentCreation(ctx, granter, who, id)
				default:
					key = models.AssignmentRewardKey(id, who)
					_, err = f.ledger.RewardAssignmentCompletion(ctx, granter, who, id)
				}
				if minted[key.String()] && err == nil {
					t.Fatalf("PROPERTY VIOLATION: key %s minted twice", key)
				}
				if !minted[key.String()] && err != nil {
					t.Fatalf("PROPERTY VIOLATION: first mint of %s failed: %v", key, err)
				}
				minted[key.String()] = true
			case 1:
				amount := decimal.NewFromInt(rapid.Int64Range(1, 120).Draw(t, "amount"))
				_ = f.ledger.Burn(ctx, who, amount)
			case 2:
				to := rapid.SampledFrom(accounts).Draw(t, "to")
				amount := decimal.NewFromInt(rapid.Int64Range(1, 120).Draw(t, "amount"))
				_ = f.ledger.Transfer(ctx, who, to, amount)
			}

			sum := decimal.Zero
			for _, a := range accounts {
				bal := f.ledger.BalanceOf(ctx, a)
				if bal.IsNegative() {
					t.Fatalf("PROPERTY VIOLATION: negative balance %s for %s", bal, a)
				}
				sum = sum.Add(bal)
			}
			if !sum.Equal(f.ledger.TotalSupply(ctx)) {
				t.Fatalf("PROPERTY VIOLATION: supply %s != sum of balances %s", f.ledger.TotalSupply(ctx), sum)
			}
		}
	})
}
