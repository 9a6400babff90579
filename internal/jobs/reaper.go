package jobs

import (
	"context"
	"log"
	"time"

	"github.com/dentalsync/whatsapp-gateway/internal/models"
	"github.com/dentalsync/whatsapp-gateway/internal/services"
)

const (
	// reapInterval is how often stuck sessions are swept
	reapInterval = 1 * time.Minute

	// stuckAfter is how long a session may sit in a non-ready state
	// before its resources are reclaimed. Long enough for a slow QR
	// scan, short enough that abandoned scans don't pile up.
	stuckAfter = 10 * time.Minute
)

// SessionReaper destroys sessions that never finished connecting, so
// abandoned QR scans don't hold sockets and device slots forever
type SessionReaper struct {
	sessions  *services.SessionManager
	isRunning bool
	stop      chan struct{}
}

// NewSessionReaper creates a new session reaper
func NewSessionReaper(sessions *services.SessionManager) *SessionReaper {
	return &SessionReaper{
		sessions: sessions,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (r *SessionReaper) Start() {
	if r.isRunning {
		log.Println("Session reaper already running")
		return
	}

	r.isRunning = true
	log.Println("Starting session reaper...")

	go r.run()
}

// Stop halts the sweep
func (r *SessionReaper) Stop() {
	if !r.isRunning {
		return
	}
	r.isRunning = false
	close(r.stop)
	log.Println("Stopping session reaper...")
}

func (r *SessionReaper) run() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep destroys every session that is still not ready well past any
// reasonable pairing window
func (r *SessionReaper) sweep() {
	cutoff := time.Now().Add(-stuckAfter)

	for _, sess := range r.sessions.Sessions() {
		if sess.State() == models.StateReady {
			continue
		}
		if sess.CreatedAt.After(cutoff) {
			continue
		}

		log.Printf("[%s] ⏰ Reaping session stuck in %s for over %v", sess.UserID, sess.State(), stuckAfter)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := r.sessions.Destroy(ctx, sess.UserID); err != nil {
			log.Printf("[%s] Failed to reap session: %v", sess.UserID, err)
		}
		cancel()
	}
}
