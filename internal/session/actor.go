package session

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"rapport/internal"
	"rapport/internal/errors"
	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
)

// errActorStopped signals that an actor exited before (or while) handling a
// task. The registry replaces stopped actors and retries, so this never
// reaches service callers.
var errActorStopped = stderrors.New("session actor stopped")

// Sink receives committed session facts for asynchronous mirroring. Calls
// happen on the actor goroutine after the durable store acknowledged the
// mutation, so per-session call order matches commit order. Implementations
// must not block.
type Sink interface {
	SessionStarted(session models.Session)
	TurnAppended(turn models.Turn)
	SessionEnded(session models.Session)
}

const mailboxSize = 16

// task is one queued operation and its completion signal
type task struct {
	run  func()
	done chan struct{}
}

// Actor owns a single session. Every operation funnels through its mailbox
// and executes one at a time in arrival order, which serializes all access
// to the session record and its conversation log. Mutations are persisted
// before they are acknowledged; a failed persist is unwound so memory never
// runs ahead of the store.
type Actor struct {
	id     uuid.UUID
	store  ports.SessionStore
	sink   Sink
	logger *internal.Logger

	mailbox chan *task
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	created   time.Time
	lastTouch atomic.Int64

	// Owned by the actor goroutine
	sess     *models.Session
	log      *Log
	hydrated bool
	degraded bool
}

func newActor(id uuid.UUID, store ports.SessionStore, sink Sink, logger *internal.Logger) *Actor {
	a := &Actor{
		id:      id,
		store:   store,
		sink:    sink,
		logger:  logger,
		mailbox: make(chan *task, mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		created: time.Now(),
		log:     NewLog(),
	}
	a.lastTouch.Store(time.Now().UnixNano())
	return a
}

// run is the actor goroutine. It exits when stop is called, draining any
// tasks that were already queued so their callers are not left waiting.
func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case t := <-a.mailbox:
			t.run()
			close(t.done)
		case <-a.quit:
			for {
				select {
				case t := <-a.mailbox:
					t.run()
					close(t.done)
				default:
					return
				}
			}
		}
	}
}

// stop asks the actor goroutine to exit after draining its mailbox
func (a *Actor) stop() {
	a.once.Do(func() { close(a.quit) })
}

// idleSince reports the last time a task was accepted, as unix nanoseconds
func (a *Actor) idleSince() int64 {
	return a.lastTouch.Load()
}

// do submits fn to the mailbox and waits for it to finish. The context only
// gates admission; once accepted, fn always runs.
func (a *Actor) do(ctx context.Context, fn func()) error {
	t := &task{run: fn, done: make(chan struct{})}
	select {
	case a.mailbox <- t:
		a.lastTouch.Store(time.Now().UnixNano())
	case <-a.done:
		return errActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-a.done:
		// The drain may have run the task right before exiting
		select {
		case <-t.done:
			return nil
		default:
			return errActorStopped
		}
	}
}

// Initialize creates the session in the active state. A second call for the
// same session is a protocol violation.
func (a *Actor) Initialize(ctx context.Context, userID uuid.UUID, scenario models.Scenario) (*models.Session, error) {
	var sess *models.Session
	var opErr error
	if err := a.do(ctx, func() {
		sess, opErr = a.initialize(ctx, userID, scenario)
	}); err != nil {
		return nil, err
	}
	return sess, opErr
}

// AppendTurn validates the session is active, assigns the next sequence
// number, persists the turn, and returns it with the new turn count.
func (a *Actor) AppendTurn(ctx context.Context, role models.Role, content string) (models.Turn, int, error) {
	var turn models.Turn
	var count int
	var opErr error
	if err := a.do(ctx, func() {
		turn, count, opErr = a.appendTurn(ctx, role, content)
	}); err != nil {
		return models.Turn{}, 0, err
	}
	return turn, count, opErr
}

// History returns a copy of the conversation log. A session with no record
// yields an empty history.
func (a *Actor) History(ctx context.Context) ([]models.Turn, error) {
	var turns []models.Turn
	var opErr error
	if err := a.do(ctx, func() {
		turns, opErr = a.history(ctx)
	}); err != nil {
		return nil, err
	}
	return turns, opErr
}

// Finalize moves the session to the ended state and stamps its end time.
// Finalizing an already ended session is a no-op that returns the existing
// record, so replays and racing end requests converge on one result.
func (a *Actor) Finalize(ctx context.Context) (*models.Session, error) {
	var sess *models.Session
	var opErr error
	if err := a.do(ctx, func() {
		sess, opErr = a.finalize(ctx)
	}); err != nil {
		return nil, err
	}
	return sess, opErr
}

// RecordFeedback attaches assessment feedback to an ended session. Only the
// first write wins; later writes return false and the stored record, which
// keeps downstream aggregation to exactly one update per session.
func (a *Actor) RecordFeedback(ctx context.Context, score int, feedback string) (bool, *models.Session, error) {
	var first bool
	var sess *models.Session
	var opErr error
	if err := a.do(ctx, func() {
		first, sess, opErr = a.recordFeedback(ctx, score, feedback)
	}); err != nil {
		return false, nil, err
	}
	return first, sess, opErr
}

// Snapshot returns a copy of the session record, NotFound when the session
// was never initialized.
func (a *Actor) Snapshot(ctx context.Context) (*models.Session, error) {
	var sess *models.Session
	var opErr error
	if err := a.do(ctx, func() {
		sess, opErr = a.snapshot(ctx)
	}); err != nil {
		return nil, err
	}
	return sess, opErr
}

// ensureHydrated loads the session and its turns from the store on first
// use. A missing session hydrates to the uninitialized state; a store
// failure leaves the actor unhydrated so the next task retries the load.
func (a *Actor) ensureHydrated(ctx context.Context) error {
	if a.hydrated {
		return nil
	}

	sess, err := a.store.GetSession(ctx, a.id)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			a.hydrated = true
			return nil
		}
		return errors.StorageUnavailable("session load", err)
	}

	turns, err := a.store.ListTurns(ctx, a.id)
	if err != nil {
		return errors.StorageUnavailable("turn load", err)
	}
	if err := a.log.Restore(turns); err != nil {
		return err
	}

	sess.TurnCount = a.log.Len()
	a.sess = sess
	a.hydrated = true
	a.logger.Debug("[SessionActor] rehydrated session %s with %d turns", a.id, a.log.Len())
	return nil
}

func (a *Actor) initialize(ctx context.Context, userID uuid.UUID, scenario models.Scenario) (*models.Session, error) {
	if err := a.ensureHydrated(ctx); err != nil {
		return nil, err
	}
	if a.sess != nil {
		return nil, errors.AlreadyInitialized(a.id.String())
	}

	sess := models.NewSession(a.id, userID, scenario.Name)
	sess.State = models.SessionStateActive
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return nil, errors.StorageUnavailable("session create", err)
	}

	a.sess = sess
	a.sink.SessionStarted(*sess)
	a.logger.Info("[SessionActor] session %s started for user %s scenario=%s", a.id, userID, scenario.Name)
	return a.copySession(), nil
}

func (a *Actor) appendTurn(ctx context.Context, role models.Role, content string) (models.Turn, int, error) {
	if err := a.ensureHydrated(ctx); err != nil {
		return models.Turn{}, 0, err
	}
	if a.sess == nil || !a.sess.IsActive() {
		return models.Turn{}, 0, errors.NotActive(a.id.String())
	}

	turn := a.log.Append(a.id, role, content)
	if err := a.store.AppendTurn(ctx, &turn); err != nil {
		a.log.Truncate(turn.Seq)
		return models.Turn{}, 0, errors.StorageUnavailable("turn append", err)
	}

	a.sess.TurnCount = a.log.Len()
	a.sess.UpdatedAt = turn.CreatedAt
	a.sink.TurnAppended(turn)
	return turn, a.log.Len(), nil
}

func (a *Actor) history(ctx context.Context) ([]models.Turn, error) {
	if err := a.ensureHydrated(ctx); err != nil {
		return nil, err
	}
	if a.sess == nil {
		return []models.Turn{}, nil
	}
	return a.log.Snapshot(), nil
}

func (a *Actor) finalize(ctx context.Context) (*models.Session, error) {
	if err := a.ensureHydrated(ctx); err != nil {
		return a.finalizeUnloaded(ctx, err), nil
	}
	if a.sess == nil {
		return nil, errors.NotActive(a.id.String())
	}
	if a.sess.State == models.SessionStateEnded {
		return a.copySession(), nil
	}

	now := time.Now()
	a.sess.State = models.SessionStateEnded
	a.sess.EndedAt = &now
	a.sess.UpdatedAt = now

	// The ended state is committed in memory even when the store is
	// down: a session that cannot be persisted as ended must still stop
	// accepting turns.
	if err := a.store.UpdateSession(ctx, a.sess); err != nil {
		a.logger.Warn("[SessionActor] session %s ended but persist failed: %v", a.id, err)
	}

	a.sink.SessionEnded(*a.sess)
	a.logger.Info("[SessionActor] session %s ended after %d turns (%s)", a.id, a.sess.TurnCount, a.sess.Duration().Round(time.Second))
	return a.copySession(), nil
}

// finalizeUnloaded commits an ended placeholder for a session whose record
// never loaded. Rejecting further turns matters more than an accurate
// record here: the actor's own lifetime stands in for the duration, replays
// return the same placeholder, and the sink never sees it.
func (a *Actor) finalizeUnloaded(ctx context.Context, loadErr error) *models.Session {
	now := time.Now()
	a.sess = &models.Session{
		ID:        a.id,
		State:     models.SessionStateEnded,
		StartedAt: a.created,
		EndedAt:   &now,
		CreatedAt: a.created,
		UpdatedAt: now,
	}
	a.hydrated = true
	a.degraded = true
	a.logger.Warn("[SessionActor] session %s ended without a loadable record: %v", a.id, loadErr)
	if err := a.store.UpdateSession(ctx, a.sess); err != nil {
		a.logger.Warn("[SessionActor] session %s ended but persist failed: %v", a.id, err)
	}
	return a.copySession()
}

func (a *Actor) recordFeedback(ctx context.Context, score int, feedback string) (bool, *models.Session, error) {
	if err := a.ensureHydrated(ctx); err != nil {
		return false, nil, err
	}
	if a.sess == nil || a.sess.State != models.SessionStateEnded {
		return false, nil, errors.NotActive(a.id.String())
	}
	if a.sess.Score != nil {
		return false, a.copySession(), nil
	}

	a.sess.Score = &score
	a.sess.Feedback.String = feedback
	a.sess.Feedback.Valid = true
	a.sess.UpdatedAt = time.Now()

	if err := a.store.UpdateSession(ctx, a.sess); err != nil {
		a.logger.Warn("[SessionActor] session %s feedback persist failed: %v", a.id, err)
	}

	// Placeholder records from a degraded ending carry no user or turn
	// count and stay out of the mirror.
	if !a.degraded {
		a.sink.SessionEnded(*a.sess)
	}
	return true, a.copySession(), nil
}

func (a *Actor) snapshot(ctx context.Context) (*models.Session, error) {
	if err := a.ensureHydrated(ctx); err != nil {
		return nil, err
	}
	if a.sess == nil {
		return nil, errors.NotFound("session")
	}
	return a.copySession(), nil
}

func (a *Actor) copySession() *models.Session {
	copied := *a.sess
	return &copied
}
