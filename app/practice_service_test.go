package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"rapport/adapters/scenario"
	"rapport/internal"
	"rapport/internal/errors"
	"rapport/internal/mirror"
	"rapport/internal/progress"
	"rapport/internal/session"
	"rapport/internal/usage"
	"rapport/models"
)

// fakeActorStore is an in-memory stand-in for the durable actor store.
type fakeActorStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	turns    map[uuid.UUID][]models.Turn
}

func newFakeActorStore() *fakeActorStore {
	return &fakeActorStore{
		sessions: make(map[uuid.UUID]*models.Session),
		turns:    make(map[uuid.UUID][]models.Turn),
	}
}

func (f *fakeActorStore) CreateSession(ctx context.Context, sess *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeActorStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeActorStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[turn.SessionID] = append(f.turns[turn.SessionID], *turn)
	return nil
}

func (f *fakeActorStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session")
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeActorStore) ListTurns(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Turn, len(f.turns[sessionID]))
	copy(out, f.turns[sessionID])
	return out, nil
}

// fakeMirror mimics the Postgres mirror repositories, including idempotent
// message inserts.
type fakeMirror struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.Session
	messages map[uuid.UUID][]models.Turn
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		sessions: make(map[uuid.UUID]models.Session),
		messages: make(map[uuid.UUID][]models.Turn),
	}
}

func (f *fakeMirror) UpsertSession(ctx context.Context, sess *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = *sess
	return nil
}

func (f *fakeMirror) InsertMessage(ctx context.Context, turn *models.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.messages[turn.SessionID] {
		if existing.Seq == turn.Seq {
			return nil
		}
	}
	f.messages[turn.SessionID] = append(f.messages[turn.SessionID], *turn)
	return nil
}

func (f *fakeMirror) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session")
	}
	cp := sess
	return &cp, nil
}

func (f *fakeMirror) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Turn, len(f.messages[sessionID]))
	copy(out, f.messages[sessionID])
	return out, nil
}

func (f *fakeMirror) ListRecentSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Session, 0, len(f.sessions))
	for _, sess := range f.sessions {
		cp := sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMirror) ListUserSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Session, 0)
	for _, sess := range f.sessions {
		if sess.UserID != userID {
			continue
		}
		cp := sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMirror) ListUserScores(ctx context.Context, userID uuid.UUID) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ended := make([]models.Session, 0)
	for _, sess := range f.sessions {
		if sess.UserID == userID && sess.State == models.SessionStateEnded && sess.Score != nil {
			ended = append(ended, sess)
		}
	}
	sort.Slice(ended, func(i, j int) bool {
		return ended[i].EndedAt.Before(*ended[j].EndedAt)
	})
	scores := make([]int, len(ended))
	for i, sess := range ended {
		scores[i] = *sess.Score
	}
	return scores, nil
}

// fakeProgress is an honest compare-and-swap progress store.
type fakeProgress struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.UserProgress
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{rows: make(map[uuid.UUID]models.UserProgress)}
}

func (f *fakeProgress) GetProgress(ctx context.Context, userID uuid.UUID) (*models.UserProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID]
	if !ok {
		return nil, errors.NotFound("user progress")
	}
	cp := row
	return &cp, nil
}

func (f *fakeProgress) InsertProgress(ctx context.Context, progress *models.UserProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[progress.UserID]; exists {
		return errors.AggregationConflict(progress.UserID.String(), 1)
	}
	f.rows[progress.UserID] = *progress
	return nil
}

func (f *fakeProgress) CompareAndSwapProgress(ctx context.Context, progress *models.UserProgress, expectedCount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[progress.UserID]
	if !ok || row.SessionCount != expectedCount {
		return false, nil
	}
	f.rows[progress.UserID] = *progress
	return true, nil
}

func (f *fakeProgress) ListProgress(ctx context.Context, limit int) ([]*models.UserProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.UserProgress, 0, len(f.rows))
	for _, row := range f.rows {
		cp := row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeInference scripts replies and assessments. Feedback can be keyed per
// session for concurrent completion tests.
type fakeInference struct {
	mu        sync.Mutex
	reply     string
	replyErr  error
	feedback  string
	assessErr error
	feedbacks map[uuid.UUID]string

	respondCalls int
	assessCalls  int
}

func (f *fakeInference) Respond(ctx context.Context, systemPrompt string, history []models.Turn) (*models.InferenceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respondCalls++
	if f.replyErr != nil {
		return nil, errors.UpstreamUnavailable("inference respond", f.replyErr)
	}
	reply := f.reply
	if reply == "" {
		reply = "It comes and goes, mostly at night."
	}
	return &models.InferenceResult{Content: reply}, nil
}

func (f *fakeInference) Assess(ctx context.Context, history []models.Turn) (*models.InferenceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessCalls++
	if f.assessErr != nil {
		return nil, errors.UpstreamUnavailable("inference assess", f.assessErr)
	}
	if f.feedbacks != nil && len(history) > 0 {
		if fb, ok := f.feedbacks[history[0].SessionID]; ok {
			return &models.InferenceResult{Content: fb}, nil
		}
	}
	fb := f.feedback
	if fb == "" {
		fb = "Warm and attentive throughout. Score: 8"
	}
	return &models.InferenceResult{Content: fb}, nil
}

type fakeUsage struct {
	mu      sync.Mutex
	records []*models.InferenceUsage
}

func (f *fakeUsage) RecordUsage(ctx context.Context, record *models.InferenceUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeUsage) GetSessionUsage(ctx context.Context, sessionID uuid.UUID) (*models.UsageSummary, error) {
	return &models.UsageSummary{SessionID: sessionID}, nil
}

type testEnv struct {
	service   *PracticeService
	inference *fakeInference
	mirror    *fakeMirror
	progress  *fakeProgress
	writer    *mirror.Writer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := internal.NewLogger(internal.LogLevelError)

	store := newFakeActorStore()
	mirrorRepo := newFakeMirror()
	writer := mirror.NewWriter(mirrorRepo, logger, 3, time.Millisecond)
	writer.Start()

	registry := session.NewRegistry(store, writer, logger, time.Minute, 0)
	registry.Start()

	inference := &fakeInference{feedbacks: make(map[uuid.UUID]string)}
	progressRepo := newFakeProgress()
	aggregator := progress.NewAggregator(progressRepo, logger, 50)
	usageService := usage.NewService(&fakeUsage{})

	service := NewPracticeService(
		registry,
		scenario.NewCatalog(),
		inference,
		aggregator,
		progressRepo,
		mirrorRepo,
		usageService,
		logger,
	)

	t.Cleanup(func() {
		registry.Close()
		writer.Close()
	})

	return &testEnv{
		service:   service,
		inference: inference,
		mirror:    mirrorRepo,
		progress:  progressRepo,
		writer:    writer,
	}
}

func TestAnxietySessionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	started, err := env.service.Start(ctx, userID, "anxiety")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	wantOpening := "I haven't been sleeping well lately. My mind just won't slow down."
	if started.OpeningLine != wantOpening {
		t.Errorf("opening line = %q, want %q", started.OpeningLine, wantOpening)
	}
	if started.Session.State != models.SessionStateActive {
		t.Errorf("new session should be active, got %s", started.Session.State)
	}

	count, err := env.service.SendTurn(ctx, started.Session.ID, models.RoleCounselor, "Let's breathe together")
	if err != nil {
		t.Fatalf("SendTurn failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected turn count 1, got %d", count)
	}

	ended, err := env.service.End(ctx, started.Session.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if len(ended.Transcript) != 1 {
		t.Errorf("expected 1 transcript turn, got %d", len(ended.Transcript))
	}
	if ended.DurationMs < 0 {
		t.Errorf("duration should be non-negative, got %d", ended.DurationMs)
	}
	if ended.Session.State != models.SessionStateEnded {
		t.Errorf("session should be ended, got %s", ended.Session.State)
	}
	if ended.Feedback == "" {
		t.Error("ended session should carry feedback")
	}
}

func TestStartUnknownScenarioUsesDefault(t *testing.T) {
	env := newTestEnv(t)

	started, err := env.service.Start(context.Background(), uuid.New(), "imposter-syndrome")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Session.Scenario != scenario.DefaultName {
		t.Errorf("unknown scenario should fall back to %q, got %q", scenario.DefaultName, started.Session.Scenario)
	}
	if started.OpeningLine == "" {
		t.Error("default scenario should still provide an opening line")
	}
}

func TestExchangeAppendsBothSides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, _ := env.service.Start(ctx, uuid.New(), "anxiety")
	result, err := env.service.Exchange(ctx, started.Session.ID, "How have you been sleeping?")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if result.TurnCount != 2 {
		t.Errorf("expected 2 turns after exchange, got %d", result.TurnCount)
	}
	if result.Reply != "It comes and goes, mostly at night." {
		t.Errorf("unexpected reply: %q", result.Reply)
	}

	history, _ := env.service.History(ctx, started.Session.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 history turns, got %d", len(history))
	}
	if history[0].Role != models.RoleCounselor || history[1].Role != models.RoleClient {
		t.Errorf("unexpected roles: %s then %s", history[0].Role, history[1].Role)
	}
	if history[1].Content != result.Reply {
		t.Errorf("client turn should carry the reply, got %q", history[1].Content)
	}
}

func TestExchangeFallsBackWhenInferenceDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, _ := env.service.Start(ctx, uuid.New(), "anxiety")
	env.inference.replyErr = fmt.Errorf("connection refused")

	result, err := env.service.Exchange(ctx, started.Session.ID, "Tell me more about the nights")
	if err != nil {
		t.Fatalf("Exchange must not fail on inference outage: %v", err)
	}
	if result.Reply != FallbackReply {
		t.Errorf("reply = %q, want the fixed fallback %q", result.Reply, FallbackReply)
	}
	if result.TurnCount != 2 {
		t.Errorf("both sides should still increment, got count %d", result.TurnCount)
	}

	// The session stays usable.
	count, err := env.service.SendTurn(ctx, started.Session.ID, models.RoleCounselor, "Take your time")
	if err != nil {
		t.Fatalf("session should remain active after fallback: %v", err)
	}
	if count != 3 {
		t.Errorf("expected turn count 3, got %d", count)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	started, _ := env.service.Start(ctx, userID, "grief")
	if _, err := env.service.Exchange(ctx, started.Session.ID, "I'm here with you."); err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	first, err := env.service.End(ctx, started.Session.ID)
	if err != nil {
		t.Fatalf("first End failed: %v", err)
	}
	second, err := env.service.End(ctx, started.Session.ID)
	if err != nil {
		t.Fatalf("replayed End failed: %v", err)
	}

	if first.Feedback != second.Feedback {
		t.Errorf("feedback changed on replay: %q vs %q", first.Feedback, second.Feedback)
	}
	if first.Score != second.Score {
		t.Errorf("score changed on replay: %d vs %d", first.Score, second.Score)
	}
	if len(first.Transcript) != len(second.Transcript) {
		t.Errorf("transcript changed on replay: %d vs %d turns", len(first.Transcript), len(second.Transcript))
	}
	if env.inference.assessCalls != 1 {
		t.Errorf("assessment should run once, ran %d times", env.inference.assessCalls)
	}

	prog, err := env.service.Progress(ctx, userID)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if prog.SessionCount != 1 {
		t.Errorf("replayed End must not aggregate twice: count %d", prog.SessionCount)
	}
}

func TestEndUsesDefaultScoreForUnscorableFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	env.inference.feedback = "Great empathy throughout, keep attending to silence."

	started, _ := env.service.Start(ctx, userID, "anxiety")
	env.service.SendTurn(ctx, started.Session.ID, models.RoleCounselor, "What brings you in?")

	ended, err := env.service.End(ctx, started.Session.ID)
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if ended.Score != progress.DefaultScore {
		t.Errorf("unscorable feedback should default to %d, got %d", progress.DefaultScore, ended.Score)
	}

	prog, _ := env.service.Progress(ctx, userID)
	if prog.SessionCount != 1 || prog.AverageScore != float64(progress.DefaultScore) {
		t.Errorf("default score should reach the average: count=%d avg=%.2f", prog.SessionCount, prog.AverageScore)
	}
}

func TestEndFallsBackWhenAssessmentDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	env.inference.assessErr = fmt.Errorf("timeout")

	started, _ := env.service.Start(ctx, userID, "burnout")
	env.service.SendTurn(ctx, started.Session.ID, models.RoleCounselor, "When did the exhaustion start?")

	ended, err := env.service.End(ctx, started.Session.ID)
	if err != nil {
		t.Fatalf("End must degrade, not fail: %v", err)
	}
	if ended.Feedback != FallbackFeedback {
		t.Errorf("feedback = %q, want fixed fallback", ended.Feedback)
	}
	if ended.Score != progress.DefaultScore {
		t.Errorf("fallback feedback should score the neutral default, got %d", ended.Score)
	}

	prog, _ := env.service.Progress(ctx, userID)
	if prog.SessionCount != 1 {
		t.Errorf("completion should still aggregate, count %d", prog.SessionCount)
	}
}

func TestEndUnknownSessionFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.End(context.Background(), uuid.New())
	if !errors.IsCode(err, errors.CodeNotActive) {
		t.Errorf("expected SESSION_NOT_ACTIVE, got %v", err)
	}
}

func TestHistoryUnknownSessionIsEmpty(t *testing.T) {
	env := newTestEnv(t)

	history, err := env.service.History(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("unknown session should have empty history, got %d turns", len(history))
	}
}

func TestConcurrentCompletionsYieldExactMean(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	scores := []int{3, 4, 5, 6, 7, 8, 9, 10}

	sessionIDs := make([]uuid.UUID, len(scores))
	for i, score := range scores {
		started, err := env.service.Start(ctx, userID, "anxiety")
		if err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		if _, err := env.service.SendTurn(ctx, started.Session.ID, models.RoleCounselor, "How are you today?"); err != nil {
			t.Fatalf("SendTurn %d failed: %v", i, err)
		}
		sessionIDs[i] = started.Session.ID

		env.inference.mu.Lock()
		env.inference.feedbacks[started.Session.ID] = fmt.Sprintf("Solid pacing. Score: %d", score)
		env.inference.mu.Unlock()
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(sessionIDs))
	for _, id := range sessionIDs {
		wg.Add(1)
		go func(sessionID uuid.UUID) {
			defer wg.Done()
			if _, err := env.service.End(ctx, sessionID); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent End failed: %v", err)
	}

	prog, err := env.service.Progress(ctx, userID)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if prog.SessionCount != len(scores) {
		t.Errorf("expected count %d, got %d", len(scores), prog.SessionCount)
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	wantMean := float64(sum) / float64(len(scores))
	if math.Abs(prog.AverageScore-wantMean) > 1e-9 {
		t.Errorf("average = %v, want exact mean %v", prog.AverageScore, wantMean)
	}
}

func TestMirrorReceivesSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	started, _ := env.service.Start(ctx, userID, "conflict")
	env.service.Exchange(ctx, started.Session.ID, "What does the fight usually start over?")
	if _, err := env.service.End(ctx, started.Session.ID); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := env.writer.Flush(flushCtx); err != nil {
		t.Fatalf("mirror flush failed: %v", err)
	}

	sess, turns, err := env.service.SessionDetail(ctx, started.Session.ID)
	if err != nil {
		t.Fatalf("SessionDetail failed: %v", err)
	}
	if sess.State != models.SessionStateEnded {
		t.Errorf("mirrored session should be ended, got %s", sess.State)
	}
	if sess.Score == nil {
		t.Error("mirrored session should carry the score")
	}
	if sess.FeedbackText() == "" {
		t.Error("mirrored session should carry feedback")
	}
	if len(turns) != 2 {
		t.Errorf("expected 2 mirrored turns, got %d", len(turns))
	}

	scores, err := env.mirror.ListUserScores(ctx, userID)
	if err != nil {
		t.Fatalf("ListUserScores failed: %v", err)
	}
	if len(scores) != 1 {
		t.Errorf("expected one mirrored score, got %d", len(scores))
	}

	summary, err := env.service.Summary(ctx, userID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.SessionCount != 1 {
		t.Errorf("summary count = %d, want 1", summary.SessionCount)
	}
}
