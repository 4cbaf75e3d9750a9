// Package access holds the capability checks the ledgers consult before
// any mutation: role membership, course ownership and the pause flag.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/store"
)

// Role names a capability granted to an address
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleRewardGranter Role = "reward_granter"
	RoleRefundManager Role = "refund_manager"
)

// Gate errors
var (
	ErrUnknownRole = models.NewError(models.KindInvalidInput, "unknown role")
	ErrLastAdmin   = models.NewError(models.KindConflict, "cannot revoke the last admin")
)

// Publisher receives committed events.
type Publisher interface {
	Publish(ctx context.Context, evs ...models.Event)
}

// Gate tracks roles and the pause flag of one ledger. Predicates are
// side-effect free; only the administrative methods mutate.
type Gate struct {
	name   string
	store  store.Store
	events Publisher
	now    func() time.Time

	mu     sync.RWMutex
	roles  map[Role]map[models.Address]bool
	paused bool
}

type gateMeta struct {
	Paused bool `json:"paused"`
}

// NewGate creates a gate named after the ledger it protects and loads its
// persisted roles.
func NewGate(ctx context.Context, name string, s store.Store, events Publisher) (*Gate, error) {
	g := &Gate{
		name:   name,
		store:  s,
		events: events,
		now:    time.Now,
		roles:  make(map[Role]map[models.Address]bool),
	}
	if err := g.load(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gate) rolesBucket() string { return g.name + ":roles" }
func (g *Gate) metaBucket() string  { return g.name + ":gate" }

func (g *Gate) load(ctx context.Context) error {
	return g.store.View(ctx, func(tx store.Tx) error {
		var meta gateMeta
		if _, err := tx.Get(g.metaBucket(), "meta", &meta); err != nil {
			return fmt.Errorf("access: load %s gate: %w", g.name, err)
		}
		g.paused = meta.Paused
		return tx.ForEach(g.rolesBucket(), func(_ string, raw []byte) error {
			var entry roleEntry
			if err := store.Decode(raw, &entry); err != nil {
				return err
			}
			g.set(entry.Role, entry.Account, true)
			return nil
		})
	})
}

type roleEntry struct {
	Role    Role           `json:"role"`
	Account models.Address `json:"account"`
}

func roleKey(role Role, account models.Address) string {
	return string(role) + "/" + string(account)
}

func (g *Gate) set(role Role, account models.Address, on bool) {
	members, ok := g.roles[role]
	if !ok {
		members = make(map[models.Address]bool)
		g.roles[role] = members
	}
	if on {
		members[account] = true
	} else {
		delete(members, account)
	}
}

// Name returns the ledger name this gate protects
func (g *Gate) Name() string { return g.name }

// HasRole reports whether account holds role
func (g *Gate) HasRole(role Role, account models.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roles[role][account]
}

// IsPaused reports the pause flag
func (g *Gate) IsPaused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// Members lists the holders of role
func (g *Gate) Members(role Role) []models.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Address, 0, len(g.roles[role]))
	for a := range g.roles[role] {
		out = append(out, a)
	}
	return out
}

// IsCreatorOf reports whether caller created course c
func IsCreatorOf(c *models.Course, caller models.Address) bool {
	return c != nil && !caller.IsZero() && c.Creator == caller
}

func validRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleRewardGranter, RoleRefundManager:
		return true
	}
	return false
}
