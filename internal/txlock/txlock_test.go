package txlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/stretchr/testify/require"
)

func TestEnter_RejectsReentry(t *testing.T) {
	var l Lock
	ctx, release, err := l.Enter(context.Background())
	require.NoError(t, err)
	defer release()

	_, _, err = l.Enter(ctx)
	require.True(t, errors.Is(err, models.ErrReentrantCall))
	require.True(t, errors.Is(err, models.KindConflict))
}

func TestEnter_SeparateLocksDoNotInterfere(t *testing.T) {
	var a, b Lock
	ctx, releaseA, err := a.Enter(context.Background())
	require.NoError(t, err)
	defer releaseA()

	_, releaseB, err := b.Enter(ctx)
	require.NoError(t, err)
	releaseB()
}

func TestView_InsideTransition(t *testing.T) {
	var l Lock
	ctx, release, err := l.Enter(context.Background())
	require.NoError(t, err)
	defer release()

	ran := false
	l.View(ctx, func() { ran = true })
	require.True(t, ran)
}

func TestEnter_Serializes(t *testing.T) {
	var l Lock
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := l.Enter(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	require.Equal(t, 64, counter)
}

func TestRelease_EndsTransition(t *testing.T) {
	var l Lock
	ctx, release, err := l.Enter(context.Background())
	require.NoError(t, err)
	require.True(t, l.Held(ctx))

	release()
	release()
	require.False(t, l.Held(ctx))

	// a released context starts a fresh transition
	ctx2, release2, err := l.Enter(ctx)
	require.NoError(t, err)
	require.True(t, l.Held(ctx2))
	release2()
	require.False(t, l.Held(ctx2))
}

func TestView_ReleasedContextWaitsForHolder(t *testing.T) {
	var l Lock
	stale, release, err := l.Enter(context.Background())
	require.NoError(t, err)
	release()

	_, releaseOther, err := l.Enter(context.Background())
	require.NoError(t, err)

	viewed := make(chan struct{})
	go func() {
		l.View(stale, func() {})
		close(viewed)
	}()

	select {
	case <-viewed:
		t.Fatal("View with a released context ran while another transition held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	releaseOther()
	select {
	case <-viewed:
	case <-time.After(time.Second):
		t.Fatal("View did not run after the holder released")
	}
}

func TestHeld_OtherTransitionContext(t *testing.T) {
	var l Lock
	stale, release, err := l.Enter(context.Background())
	require.NoError(t, err)
	release()

	current, releaseCurrent, err := l.Enter(context.Background())
	require.NoError(t, err)
	defer releaseCurrent()

	require.True(t, l.Held(current))
	require.False(t, l.Held(stale))
}
