package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/models"
	"github.com/dentalsync/whatsapp-gateway/internal/storage"
)

func newTestManager() *SessionManager {
	hub := messaging.NewHub()
	go hub.Run()
	sm := NewSessionManager(nil, nil, hub, storage.NewMemoryStore(0))
	sm.connect = func(sess *Session) error { return nil }
	return sm
}

func markReady(sess *Session, phone string) {
	sess.mu.Lock()
	sess.state = models.StateReady
	sess.phoneNumber = phone
	sess.mu.Unlock()
}

func TestGetOrCreateIsSingleFlight(t *testing.T) {
	sm := newTestManager()

	var connects int32
	started := make(chan struct{})
	sm.connect = func(sess *Session) error {
		atomic.AddInt32(&connects, 1)
		<-started // hold the connection open while callers race
		return nil
	}

	const callers = 20
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := sm.GetOrCreate("u1")
			require.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()
	close(started)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&connects) == 1
	}, time.Second, 5*time.Millisecond)

	for _, sess := range sessions {
		assert.Same(t, sessions[0], sess, "every caller must get the same session")
	}
	assert.Equal(t, 1, sm.Count())
}

func TestGetOrCreateRejectsEmptyUserID(t *testing.T) {
	sm := newTestManager()
	_, err := sm.GetOrCreate("")
	assert.Error(t, err)
}

func TestConnectFailureEvictsSession(t *testing.T) {
	sm := newTestManager()
	sm.connect = func(sess *Session) error {
		return assert.AnError
	}

	_, err := sm.GetOrCreate("u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, exists := sm.Get("u1")
		return !exists
	}, time.Second, 5*time.Millisecond, "failed session must be evicted for a fresh QR on retry")
}

func TestDestroyIsNoOpForUnknownUser(t *testing.T) {
	sm := newTestManager()
	assert.NoError(t, sm.Destroy(context.Background(), "nobody"))
}

func TestDestroyRemovesSession(t *testing.T) {
	sm := newTestManager()
	_, err := sm.GetOrCreate("u1")
	require.NoError(t, err)

	require.NoError(t, sm.Destroy(context.Background(), "u1"))
	_, exists := sm.Get("u1")
	assert.False(t, exists)
	assert.Equal(t, 0, sm.Count())
}

func TestDestroyDuringConnectPreventsClientInstall(t *testing.T) {
	sm := newTestManager()

	started := make(chan struct{})
	release := make(chan struct{})
	sm.connect = func(sess *Session) error {
		close(started)
		<-release
		return nil
	}

	sess, err := sm.GetOrCreate("u1")
	require.NoError(t, err)
	<-started

	// Teardown races the still-running connect attempt
	require.NoError(t, sm.Destroy(context.Background(), "u1"))
	_, exists := sm.Get("u1")
	assert.False(t, exists)

	// A client built after teardown must be refused, or it would keep a
	// live connection no session owns
	assert.False(t, sess.installClient(nil))
	close(release)
}

func TestStatusMapping(t *testing.T) {
	sm := newTestManager()

	assert.Equal(t, "disconnected", sm.Status("u1").Status)

	sess, err := sm.GetOrCreate("u1")
	require.NoError(t, err)
	assert.Equal(t, "connecting", sm.Status("u1").Status)

	sess.mu.Lock()
	sess.state = models.StateQRPending
	sess.qrCode = "data:image/png;base64,Zm9v"
	sess.mu.Unlock()
	status := sm.Status("u1")
	assert.Equal(t, "qr_ready", status.Status)
	assert.NotEmpty(t, status.QRCode)

	markReady(sess, "5215512345678")
	status = sm.Status("u1")
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "5215512345678", status.PhoneNumber)
}

func TestWaitForActivationReturnsOnQR(t *testing.T) {
	sm := newTestManager()
	sess, err := sm.GetOrCreate("u1")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		sess.mu.Lock()
		sess.state = models.StateQRPending
		sess.qrCode = "data:image/png;base64,Zm9v"
		sess.mu.Unlock()
	}()

	start := time.Now()
	sm.WaitForActivation(context.Background(), sess, 5*time.Second)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.StateQRPending, sess.State())
}

func TestWaitForActivationTimesOut(t *testing.T) {
	sm := newTestManager()
	sess, err := sm.GetOrCreate("u1")
	require.NoError(t, err)

	start := time.Now()
	sm.WaitForActivation(context.Background(), sess, 100*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.StateInitializing, sess.State())
}
