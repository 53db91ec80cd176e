package session

import (
	"context"
	"sync"
	"time"

	"rapport/internal"
	"rapport/internal/errors"
	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
)

// spawnRetries bounds how often an operation is replayed onto a fresh actor
// after racing an eviction
const spawnRetries = 3

// Registry hands out the single live actor for each session. Actors are
// spawned on demand, rehydrate themselves from the durable store, and are
// evicted again once idle, so the set of resident actors tracks the working
// set rather than the full session history.
type Registry struct {
	store  ports.SessionStore
	sink   Sink
	logger *internal.Logger

	idleTTL         time.Duration
	janitorInterval time.Duration

	mu     sync.Mutex
	actors map[uuid.UUID]*Actor

	stopJanitor chan struct{}
	janitorDone chan struct{}
	startOnce   sync.Once
	closeOnce   sync.Once
}

// NewRegistry creates a registry backed by the given durable store and
// mirror sink
func NewRegistry(store ports.SessionStore, sink Sink, logger *internal.Logger, idleTTL, janitorInterval time.Duration) *Registry {
	return &Registry{
		store:           store,
		sink:            sink,
		logger:          logger,
		idleTTL:         idleTTL,
		janitorInterval: janitorInterval,
		actors:          make(map[uuid.UUID]*Actor),
		stopJanitor:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}
}

// Start launches the idle janitor. A non-positive interval disables it.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		if r.janitorInterval <= 0 {
			close(r.janitorDone)
			return
		}
		go r.janitor()
	})
}

// Close stops the janitor and drains every resident actor
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stopJanitor)
		r.Start() // ensure janitorDone gets closed even if Start was never called
		<-r.janitorDone

		r.mu.Lock()
		actors := make([]*Actor, 0, len(r.actors))
		for id, a := range r.actors {
			actors = append(actors, a)
			delete(r.actors, id)
		}
		r.mu.Unlock()

		for _, a := range actors {
			a.stop()
			<-a.done
		}
		r.logger.Info("[SessionRegistry] drained %d actors on shutdown", len(actors))
	})
}

// ActiveActors returns the number of resident session actors
func (r *Registry) ActiveActors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Initialize starts a session under a fresh or rehydrated actor
func (r *Registry) Initialize(ctx context.Context, sessionID, userID uuid.UUID, scenario models.Scenario) (*models.Session, error) {
	var sess *models.Session
	err := r.withActor(ctx, sessionID, func(a *Actor) error {
		var opErr error
		sess, opErr = a.Initialize(ctx, userID, scenario)
		return opErr
	})
	return sess, err
}

// AppendTurn routes a turn through the session's actor
func (r *Registry) AppendTurn(ctx context.Context, sessionID uuid.UUID, role models.Role, content string) (models.Turn, int, error) {
	var turn models.Turn
	var count int
	err := r.withActor(ctx, sessionID, func(a *Actor) error {
		var opErr error
		turn, count, opErr = a.AppendTurn(ctx, role, content)
		return opErr
	})
	return turn, count, err
}

// History returns the session's conversation log in order
func (r *Registry) History(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	var turns []models.Turn
	err := r.withActor(ctx, sessionID, func(a *Actor) error {
		var opErr error
		turns, opErr = a.History(ctx)
		return opErr
	})
	return turns, err
}

// Finalize ends the session, idempotently
func (r *Registry) Finalize(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var sess *models.Session
	err := r.withActor(ctx, sessionID, func(a *Actor) error {
		var opErr error
		sess, opErr = a.Finalize(ctx)
		return opErr
	})
	return sess, err
}

// RecordFeedback attaches assessment results to an ended session
func (r *Registry) RecordFeedback(ctx context.Context, sessionID uuid.UUID, score int, feedback string) (bool, *models.Session, error) {
	var first bool
	var sess *models.Session
	err := r.withActor(ctx, sessionID, func(a *Actor) error {
		var opErr error
		first, sess, opErr = a.RecordFeedback(ctx, score, feedback)
		return opErr
	})
	return first, sess, err
}

// Snapshot returns the session record without touching its log
func (r *Registry) Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var sess *models.Session
	err := r.withActor(ctx, sessionID, func(a *Actor) error {
		var opErr error
		sess, opErr = a.Snapshot(ctx)
		return opErr
	})
	return sess, err
}

// withActor runs fn against the session's live actor, replacing the actor
// and retrying when it raced an eviction
func (r *Registry) withActor(ctx context.Context, sessionID uuid.UUID, fn func(*Actor) error) error {
	for attempt := 0; attempt < spawnRetries; attempt++ {
		a := r.actor(sessionID)
		err := fn(a)
		if err == errActorStopped {
			continue
		}
		return err
	}
	return errors.InternalError("session actor kept stopping mid-operation")
}

// actor returns the resident actor for the session, spawning a replacement
// when none exists or the resident one has stopped
func (r *Registry) actor(sessionID uuid.UUID) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[sessionID]; ok {
		select {
		case <-a.done:
			// fell to the janitor; replace below
		default:
			return a
		}
	}

	a := newActor(sessionID, r.store, r.sink, r.logger)
	r.actors[sessionID] = a
	go a.run()
	return a
}

// janitor periodically evicts actors idle past the TTL. Evicted sessions
// rehydrate from the store on their next operation.
func (r *Registry) janitor() {
	defer close(r.janitorDone)
	ticker := time.NewTicker(r.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepIdle()
		case <-r.stopJanitor:
			return
		}
	}
}

func (r *Registry) sweepIdle() {
	cutoff := time.Now().Add(-r.idleTTL).UnixNano()

	r.mu.Lock()
	var victims []*Actor
	for id, a := range r.actors {
		if a.idleSince() < cutoff {
			delete(r.actors, id)
			victims = append(victims, a)
		}
	}
	r.mu.Unlock()

	for _, a := range victims {
		a.stop()
	}
	if len(victims) > 0 {
		r.logger.Debug("[SessionRegistry] evicted %d idle actors", len(victims))
	}
}
