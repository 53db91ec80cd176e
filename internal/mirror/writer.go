package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rapport/internal"
	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
)

const defaultQueueSize = 1024

type factKind int

const (
	factSessionStarted factKind = iota
	factTurnAppended
	factSessionEnded
)

// fact is one committed session mutation awaiting mirroring
type fact struct {
	kind    factKind
	session models.Session
	turn    models.Turn
}

func (f fact) sessionID() uuid.UUID {
	if f.kind == factTurnAppended {
		return f.turn.SessionID
	}
	return f.session.ID
}

// Writer copies committed session activity into the analytics mirror without
// blocking the session path. A single consumer drains one FIFO queue, so
// facts apply in exactly the order sessions committed them and per-session
// order needs no extra machinery. Each fact gets a bounded number of
// attempts; a fact that exhausts them poisons its session, which stops later
// turns from applying out of order and leaves the mirrored conversation a
// clean prefix of the real one. Mirror failures never propagate back to the
// session that produced the fact.
type Writer struct {
	repo        ports.SessionMirrorRepository
	logger      *internal.Logger
	maxAttempts int
	baseDelay   time.Duration

	queue chan fact
	quit  chan struct{}
	done  chan struct{}
	start sync.Once
	stop  sync.Once

	pending atomic.Int64

	mu       sync.Mutex
	poisoned map[uuid.UUID]bool
}

// NewWriter creates a mirror writer draining into the given repository
func NewWriter(repo ports.SessionMirrorRepository, logger *internal.Logger, maxAttempts int, baseDelay time.Duration) *Writer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Writer{
		repo:        repo,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		queue:       make(chan fact, defaultQueueSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		poisoned:    make(map[uuid.UUID]bool),
	}
}

// Start launches the consumer goroutine
func (w *Writer) Start() {
	w.start.Do(func() {
		go w.run()
	})
}

// Close stops accepting facts, applies everything already queued, and waits
// for the consumer to exit
func (w *Writer) Close() {
	w.stop.Do(func() {
		close(w.quit)
	})
	w.Start() // a writer that was never started must still close cleanly
	<-w.done
}

// Flush blocks until every accepted fact has been applied or abandoned.
// Intended for shutdown and tests.
func (w *Writer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if w.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending returns the number of accepted facts not yet applied
func (w *Writer) Pending() int64 {
	return w.pending.Load()
}

// Poisoned reports whether the session's mirror lane was abandoned
func (w *Writer) Poisoned(sessionID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.poisoned[sessionID]
}

// SessionStarted mirrors a newly started session
func (w *Writer) SessionStarted(sess models.Session) {
	w.enqueue(fact{kind: factSessionStarted, session: sess})
}

// TurnAppended mirrors one committed turn
func (w *Writer) TurnAppended(turn models.Turn) {
	w.enqueue(fact{kind: factTurnAppended, turn: turn})
}

// SessionEnded mirrors a session's terminal record. Emitted at finalize and
// again when feedback lands; the upsert makes the replay harmless.
func (w *Writer) SessionEnded(sess models.Session) {
	w.enqueue(fact{kind: factSessionEnded, session: sess})
}

// enqueue never blocks. A full queue or a closing writer drops the fact and
// poisons its session so the mirror cannot skip ahead of the drop.
func (w *Writer) enqueue(f fact) {
	select {
	case <-w.quit:
		w.poison(f.sessionID())
		return
	default:
	}

	w.pending.Add(1)
	select {
	case w.queue <- f:
	default:
		w.pending.Add(-1)
		w.poison(f.sessionID())
		w.logger.Warn("[MirrorWriter] queue full, dropping fact for session %s", f.sessionID())
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case f := <-w.queue:
			w.process(f)
		case <-w.quit:
			for {
				select {
				case f := <-w.queue:
					w.process(f)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) process(f fact) {
	defer w.pending.Add(-1)

	// Turns on a poisoned session are skipped to preserve prefix order;
	// session rows keep flowing since they do not depend on message order.
	if f.kind == factTurnAppended && w.Poisoned(f.turn.SessionID) {
		return
	}

	if err := w.applyWithRetry(f); err != nil {
		w.poison(f.sessionID())
		w.logger.Error("[MirrorWriter] abandoning session %s after %d attempts: %v", f.sessionID(), w.maxAttempts, err)
	}
}

// applyWithRetry follows the usual best-effort persistence shape: bounded
// attempts with linearly growing delay, then one last try.
func (w *Writer) applyWithRetry(f fact) error {
	for attempt := 0; attempt < w.maxAttempts-1; attempt++ {
		if err := w.apply(f); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * w.baseDelay)
	}
	return w.apply(f)
}

func (w *Writer) apply(f fact) error {
	ctx := context.Background()
	switch f.kind {
	case factTurnAppended:
		return w.repo.InsertMessage(ctx, &f.turn)
	default:
		sess := f.session
		return w.repo.UpsertSession(ctx, &sess)
	}
}

func (w *Writer) poison(sessionID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.poisoned[sessionID] = true
}
