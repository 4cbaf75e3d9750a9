package access

import (
	"context"

	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/store"
)

// Bootstrap grants the admin role (and the refund manager role) to account
// when the gate has no admin yet. It is the deployment step and is a no-op
// afterwards.
func (g *Gate) Bootstrap(ctx context.Context, account models.Address) error {
	if account.IsZero() {
		return models.ErrInvalidAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.roles[RoleAdmin]) > 0 {
		return nil
	}
	var evs []models.Event
	for _, role := range []Role{RoleAdmin, RoleRefundManager} {
		if err := g.persistRole(ctx, role, account, true); err != nil {
			return err
		}
		g.set(role, account, true)
		evs = append(evs, g.event(models.EventRoleGranted, role, account, account))
	}
	g.publish(ctx, evs...)
	return nil
}

// Grant gives role to account. Only admins may grant; granting a held role
// succeeds without effect.
func (g *Gate) Grant(ctx context.Context, caller models.Address, role Role, account models.Address) error {
	if err := Require(g.OnlyRole(RoleAdmin, caller), validAccount(account), knownRole(role)); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.roles[role][account] {
		return nil
	}
	if err := g.persistRole(ctx, role, account, true); err != nil {
		return err
	}
	g.set(role, account, true)
	g.publish(ctx, g.event(models.EventRoleGranted, role, account, caller))
	return nil
}

// Revoke removes role from account. Revoking an absent role succeeds
// without effect. The last admin cannot be revoked.
func (g *Gate) Revoke(ctx context.Context, caller models.Address, role Role, account models.Address) error {
	if err := Require(g.OnlyRole(RoleAdmin, caller), validAccount(account), knownRole(role)); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.roles[role][account] {
		return nil
	}
	if role == RoleAdmin && len(g.roles[RoleAdmin]) == 1 {
		return ErrLastAdmin
	}
	if err := g.persistRole(ctx, role, account, false); err != nil {
		return err
	}
	g.set(role, account, false)
	g.publish(ctx, g.event(models.EventRoleRevoked, role, account, caller))
	return nil
}

// Pause halts the guarded ledger. Pausing a paused gate is a no-op.
func (g *Gate) Pause(ctx context.Context, caller models.Address) error {
	return g.setPaused(ctx, caller, true)
}

// Unpause resumes the guarded ledger. Unpausing a running gate is a no-op.
func (g *Gate) Unpause(ctx context.Context, caller models.Address) error {
	return g.setPaused(ctx, caller, false)
}

func (g *Gate) setPaused(ctx context.Context, caller models.Address, paused bool) error {
	if err := g.OnlyRole(RoleAdmin, caller)(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused == paused {
		return nil
	}
	err := g.store.Update(ctx, func(tx store.Tx) error {
		return tx.Put(g.metaBucket(), "meta", gateMeta{Paused: paused})
	})
	if err != nil {
		return err
	}
	g.paused = paused

	typ := models.EventUnpaused
	if paused {
		typ = models.EventPaused
	}
	g.publish(ctx, models.NewEvent(g.name, typ, g.now().UTC(), map[string]string{
		"account": caller.String(),
	}))
	return nil
}

func (g *Gate) persistRole(ctx context.Context, role Role, account models.Address, on bool) error {
	return g.store.Update(ctx, func(tx store.Tx) error {
		if on {
			return tx.Put(g.rolesBucket(), roleKey(role, account), roleEntry{Role: role, Account: account})
		}
		return tx.Delete(g.rolesBucket(), roleKey(role, account))
	})
}

func (g *Gate) event(typ models.EventType, role Role, account, sender models.Address) models.Event {
	return models.NewEvent(g.name, typ, g.now().UTC(), map[string]string{
		"role":    string(role),
		"account": account.String(),
		"sender":  sender.String(),
	})
}

func (g *Gate) publish(ctx context.Context, evs ...models.Event) {
	if g.events != nil && len(evs) > 0 {
		g.events.Publish(ctx, evs...)
	}
}
