package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serandives/accounts-client/session"
	"github.com/stretchr/testify/require"
)

func expiringIn(d time.Duration) *session.Session {
	s := liveSession()
	s.ExpiresAt = time.Now().Add(d).UnixMilli()
	return s
}

func TestArmFiresAtExpiry(t *testing.T) {
	fired := make(chan time.Time, 1)
	sched := session.NewScheduler(func() { fired <- time.Now() })

	start := time.Now()
	sched.Arm(expiringIn(100 * time.Millisecond))

	select {
	case at := <-fired:
		require.GreaterOrEqual(t, at.Sub(start), 90*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("scheduled refresh never fired")
	}
}

func TestRearmingCancelsThePreviousTimer(t *testing.T) {
	var fires int32
	sched := session.NewScheduler(func() { atomic.AddInt32(&fires, 1) })

	sched.Arm(expiringIn(50 * time.Millisecond))
	sched.Arm(expiringIn(150 * time.Millisecond))

	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&fires), "the earlier timer must never fire")
}

func TestArmWithPastExpiryFiresImmediately(t *testing.T) {
	fired := make(chan struct{}, 1)
	sched := session.NewScheduler(func() { fired <- struct{}{} })

	sched.Arm(expiringIn(-time.Minute))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("immediate refresh never fired")
	}
}

func TestCancelStopsThePendingTimer(t *testing.T) {
	var fires int32
	sched := session.NewScheduler(func() { atomic.AddInt32(&fires, 1) })

	sched.Arm(expiringIn(50 * time.Millisecond))
	sched.Cancel()
	sched.Cancel() // idempotent

	time.Sleep(200 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&fires))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestLoginArmsASelfPerpetuatingRefreshChain(t *testing.T) {
	f := setupFixture(t, session.WithRefreshMargin(800*time.Millisecond))
	f.portal.expiresIn = 1 // tokens live 1s, margin leaves ~200ms per link

	f.manager.Initialize(context.Background())
	_, err := f.manager.Login(context.Background(), "jane", "secret")
	require.NoError(t, err)

	// At least two links of the chain: refresh, re-arm, refresh again.
	waitFor(t, 3*time.Second, func() bool {
		_, refreshes, _ := f.portal.stats()
		return refreshes >= 2
	})
}

func TestLogoutCancelsTheArmedRefresh(t *testing.T) {
	f := setupFixture(t, session.WithRefreshMargin(600*time.Millisecond))
	f.portal.expiresIn = 1

	f.manager.Initialize(context.Background())
	_, err := f.manager.Login(context.Background(), "jane", "secret")
	require.NoError(t, err)

	require.NoError(t, f.manager.Logout(context.Background()))
	_, refreshesAtLogout, _ := f.portal.stats()

	time.Sleep(800 * time.Millisecond)
	_, refreshes, _ := f.portal.stats()
	require.Equal(t, refreshesAtLogout, refreshes, "no refresh may fire after logout")
}
