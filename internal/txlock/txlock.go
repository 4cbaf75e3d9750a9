// Package txlock serializes ledger entry points. A transition runs to
// completion under the lock; any call back into the same ledger made with
// the transition's context is rejected instead of deadlocking.
package txlock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aimerfeng/CourseChain/internal/models"
)

// Lock is a single-call-in-flight guard. The zero value is ready to use.
type Lock struct {
	mu     sync.RWMutex
	holder atomic.Pointer[token]
}

// token identifies one Enter. It is never zero-sized so every allocation
// has its own address.
type token struct{ _ byte }

type heldKey struct{ l *Lock }

// Enter acquires the lock for one transition. The returned context marks
// the call chain as inside the transition until release runs and must be
// handed to every external callee. release is idempotent.
func (l *Lock) Enter(ctx context.Context) (context.Context, func(), error) {
	if l.Held(ctx) {
		return ctx, func() {}, models.ErrReentrantCall
	}
	tok := &token{}
	l.mu.Lock()
	l.holder.Store(tok)
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.holder.CompareAndSwap(tok, nil)
			l.mu.Unlock()
		})
	}
	return context.WithValue(ctx, heldKey{l}, tok), release, nil
}

// Held reports whether ctx belongs to the transition currently holding l.
// A context from a released transition is not held.
func (l *Lock) Held(ctx context.Context) bool {
	tok, ok := ctx.Value(heldKey{l}).(*token)
	return ok && tok != nil && l.holder.Load() == tok
}

// View runs fn with shared access. Inside a transition of the same lock it
// runs directly, since the caller already has exclusive access.
func (l *Lock) View(ctx context.Context, fn func()) {
	if l.Held(ctx) {
		fn()
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn()
}
