package reward

import (
	"context"
	"time"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/store"
)

// RewardCoursePurchase mints the purchase reward for (courseID, buyer).
func (l *Ledger) RewardCoursePurchase(ctx context.Context, caller, buyer models.Address, courseID uint64) (*models.RewardGrant, error) {
	return l.mint(ctx, caller, buyer, models.PurchaseRewardKey(courseID, buyer))
}

// RewardCourseCompletion mints the completion reward for (courseID, buyer).
func (l *Ledger) RewardCourseCompletion(ctx context.Context, caller, buyer models.Address, courseID uint64) (*models.RewardGrant, error) {
	return l.mint(ctx, caller, buyer, models.CompletionRewardKey(courseID, buyer))
}

// RewardContentCreation mints the content-creation reward for a course.
func (l *Ledger) RewardContentCreation(ctx context.Context, caller, creator models.Address, courseID uint64) (*models.RewardGrant, error) {
	return l.mint(ctx, caller, creator, models.ContentRewardKey(courseID))
}

// RewardAssignmentCompletion mints the reward for a passed assignment.
func (l *Ledger) RewardAssignmentCompletion(ctx context.Context, caller, student models.Address, assignmentID uint64) (*models.RewardGrant, error) {
	return l.mint(ctx, caller, student, models.AssignmentRewardKey(assignmentID, student))
}

func (l *Ledger) mint(ctx context.Context, caller, recipient models.Address, key models.RewardKey) (grant *models.RewardGrant, err error) {
	defer monitoring.ObserveLedgerOp(Source, "mint", time.Now(), &err)

	ctx, release, err := l.lock.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	err = access.Require(
		l.gate.WhenNotPaused(),
		access.FailIf(func() bool { return caller.IsZero() || !l.gate.HasRole(access.RoleRewardGranter, caller) }, ErrUnauthorized),
		access.FailIf(recipient.IsZero, ErrInvalidRecipient),
		access.FailIf(func() bool { return l.grants[key.String()] != nil }, ErrAlreadyRewarded),
	)
	if err != nil {
		monitoring.RecordRewardMint(string(key.Activity), "rejected", 0)
		return nil, err
	}

	amount := l.meta.Rates.For(key.Activity)
	grant = &models.RewardGrant{
		Key:       key,
		Recipient: recipient,
		Amount:    amount,
		GrantedAt: l.now().UTC(),
	}

	j := store.NewJournal()
	l.credit(j, recipient, amount)
	next := l.meta
	next.TotalSupply = next.TotalSupply.Add(amount)
	l.setMeta(j, next)
	id := key.String()
	l.grants[id] = grant
	j.OnRollback(func() { delete(l.grants, id) })
	j.Stage(bucketGrants, id, func() any { return l.grants[id] })

	if err := l.commit(ctx, j); err != nil {
		monitoring.RecordRewardMint(string(key.Activity), "failed", 0)
		return nil, err
	}

	monitoring.RecordRewardMint(string(key.Activity), "minted", amount.InexactFloat64())
	l.publish(ctx, l.event(models.EventTokensRewarded, map[string]string{
		"recipient": recipient.String(),
		"activity":  string(key.Activity),
		"instance":  key.Instance,
		"amount":    amount.String(),
	}))
	cp := *grant
	return &cp, nil
}
