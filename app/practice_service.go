package app

import (
	"context"

	"github.com/google/uuid"

	"rapport/internal"
	"rapport/internal/errors"
	"rapport/internal/progress"
	"rapport/internal/session"
	"rapport/internal/usage"
	"rapport/models"
	"rapport/ports"
)

// Fixed fallback lines keep a session usable when inference is unavailable.
// FallbackFeedback deliberately contains no digits so score extraction takes
// its documented neutral-default path.
const (
	FallbackReply    = "I'm sorry, I lost my train of thought for a moment. Could you say that again?"
	FallbackFeedback = "Feedback could not be generated for this session. A neutral score has been recorded."
)

// PracticeService orchestrates counseling practice sessions: the session
// actor owns the live transcript, the inference backend plays the simulated
// client, and the aggregator folds completed scores into per-user progress.
type PracticeService struct {
	registry     *session.Registry
	catalog      ports.ScenarioCatalog
	inference    ports.InferenceClient
	aggregator   *progress.Aggregator
	progressRepo ports.ProgressRepository
	mirrorRepo   ports.SessionMirrorRepository
	usage        *usage.Service
	logger       *internal.Logger
}

// NewPracticeService creates a practice service
func NewPracticeService(
	registry *session.Registry,
	catalog ports.ScenarioCatalog,
	inference ports.InferenceClient,
	aggregator *progress.Aggregator,
	progressRepo ports.ProgressRepository,
	mirrorRepo ports.SessionMirrorRepository,
	usageService *usage.Service,
	logger *internal.Logger,
) *PracticeService {
	return &PracticeService{
		registry:     registry,
		catalog:      catalog,
		inference:    inference,
		aggregator:   aggregator,
		progressRepo: progressRepo,
		mirrorRepo:   mirrorRepo,
		usage:        usageService,
		logger:       logger,
	}
}

// StartResult is returned when a practice session begins
type StartResult struct {
	Session     *models.Session `json:"session"`
	OpeningLine string          `json:"opening_line"`
}

// ExchangeResult carries the simulated client's reply after a counselor turn
type ExchangeResult struct {
	Reply     string `json:"reply"`
	TurnCount int    `json:"turn_count"`
}

// EndResult summarizes a finished session
type EndResult struct {
	Session    *models.Session `json:"session"`
	Transcript []models.Turn   `json:"transcript"`
	DurationMs int64           `json:"duration_ms"`
	Feedback   string          `json:"feedback"`
	Score      int             `json:"score"`
}

// Start opens a new session for a user. The scenario's opening line is
// surfaced to the caller but not appended to the transcript; turn zero is the
// counselor's.
func (s *PracticeService) Start(ctx context.Context, userID uuid.UUID, scenarioName string) (*StartResult, error) {
	scenario := s.catalog.Get(scenarioName)
	sessionID := uuid.New()

	sess, err := s.registry.Initialize(ctx, sessionID, userID, scenario)
	if err != nil {
		return nil, err
	}

	s.logger.Info("[PracticeService] session %s started (user=%s scenario=%s)", sess.ID, userID, scenario.Name)
	return &StartResult{Session: sess, OpeningLine: scenario.OpeningLine}, nil
}

// SendTurn appends one turn for either side and returns the new turn count
func (s *PracticeService) SendTurn(ctx context.Context, sessionID uuid.UUID, role models.Role, content string) (int, error) {
	_, count, err := s.registry.AppendTurn(ctx, sessionID, role, content)
	return count, err
}

// Exchange appends the counselor's turn, asks the inference backend for the
// simulated client's reply, and appends that too. When the backend is down
// the fixed fallback line is appended instead; the session always continues.
func (s *PracticeService) Exchange(ctx context.Context, sessionID uuid.UUID, counselorText string) (*ExchangeResult, error) {
	if _, _, err := s.registry.AppendTurn(ctx, sessionID, models.RoleCounselor, counselorText); err != nil {
		return nil, err
	}

	history, err := s.registry.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := s.registry.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	scenario := s.catalog.Get(sess.Scenario)

	reply := FallbackReply
	result, err := s.inference.Respond(ctx, scenario.SystemPrompt, history)
	if err != nil {
		s.logger.Warn("[PracticeService] respond failed for session %s, using fallback: %v", sessionID, err)
	} else {
		reply = result.Content
		_ = s.usage.RecordUsage(ctx, sessionID, models.OpRespond, result.Usage)
	}

	_, count, err := s.registry.AppendTurn(ctx, sessionID, models.RoleClient, reply)
	if err != nil {
		return nil, err
	}
	return &ExchangeResult{Reply: reply, TurnCount: count}, nil
}

// History returns the ordered transcript. Unknown sessions yield an empty
// transcript, not an error.
func (s *PracticeService) History(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	return s.registry.History(ctx, sessionID)
}

// End finalizes the session, attaches assessment feedback, and folds the
// extracted score into the user's progress. The actor is finalized before any
// assessment runs so the graded transcript is the authoritative one. Replays
// return the already-recorded feedback without aggregating again.
func (s *PracticeService) End(ctx context.Context, sessionID uuid.UUID) (*EndResult, error) {
	sess, err := s.registry.Finalize(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.registry.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.Score != nil {
		return s.endResult(sess, history), nil
	}

	feedback := FallbackFeedback
	var usageData *models.UsageData
	if result, err := s.inference.Assess(ctx, history); err != nil {
		s.logger.Warn("[PracticeService] assessment failed for session %s, using fallback: %v", sessionID, err)
	} else {
		feedback = result.Content
		usageData = result.Usage
	}

	score, ok := progress.ExtractScore(feedback)
	if !ok {
		s.logger.Warn("[PracticeService] no parsable score in feedback for session %s, defaulting to %d", sessionID, progress.DefaultScore)
	}

	first, recorded, err := s.registry.RecordFeedback(ctx, sessionID, score, feedback)
	if err != nil {
		// The session is already ended; hand back what we computed and let
		// a later replay retry the feedback write.
		s.logger.Warn("[PracticeService] feedback write failed for session %s: %v", sessionID, err)
		result := s.endResult(sess, history)
		result.Feedback = feedback
		result.Score = score
		return result, nil
	}
	sess = recorded

	if first {
		_ = s.usage.RecordUsage(ctx, sessionID, models.OpAssess, usageData)
		if sess.UserID == uuid.Nil {
			// A session finalized without its stored record has no user to
			// credit the completion to.
			s.logger.Warn("[PracticeService] session %s ended without user attribution, skipping aggregation", sessionID)
		} else if agg, err := s.aggregator.RecordCompletion(ctx, sess.UserID, score); err != nil {
			s.logger.Warn("[PracticeService] progress aggregation failed for user %s: %v", sess.UserID, err)
		} else {
			s.logger.Info("[PracticeService] user %s progress: %d sessions, average %.2f", sess.UserID, agg.SessionCount, agg.AverageScore)
		}
	}

	return s.endResult(sess, history), nil
}

func (s *PracticeService) endResult(sess *models.Session, history []models.Turn) *EndResult {
	result := &EndResult{
		Session:    sess,
		Transcript: history,
		DurationMs: sess.Duration().Milliseconds(),
		Feedback:   sess.FeedbackText(),
		Score:      progress.DefaultScore,
	}
	if sess.Score != nil {
		result.Score = *sess.Score
	}
	return result
}

// Progress returns a user's stored aggregate. Users with no completed
// sessions get an empty aggregate rather than an error.
func (s *PracticeService) Progress(ctx context.Context, userID uuid.UUID) (*models.UserProgress, error) {
	prog, err := s.progressRepo.GetProgress(ctx, userID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return models.NewUserProgress(userID), nil
		}
		return nil, err
	}
	return prog, nil
}

// Summary combines the stored aggregate with distribution statistics over the
// user's mirrored session scores.
func (s *PracticeService) Summary(ctx context.Context, userID uuid.UUID) (*models.ProgressSummary, error) {
	aggregate, err := s.progressRepo.GetProgress(ctx, userID)
	if err != nil {
		if !errors.IsCode(err, errors.CodeNotFound) {
			return nil, err
		}
		aggregate = nil
	}

	scores, err := s.mirrorRepo.ListUserScores(ctx, userID)
	if err != nil {
		return nil, err
	}
	return progress.Summarize(userID, aggregate, scores)
}

// Scenarios lists the available practice scenarios
func (s *PracticeService) Scenarios() []models.Scenario {
	return s.catalog.List()
}

// RecentSessions reads the latest sessions from the mirror
func (s *PracticeService) RecentSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return s.mirrorRepo.ListRecentSessions(ctx, limit)
}

// UserSessions reads a user's sessions from the mirror, most recent first
func (s *PracticeService) UserSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error) {
	return s.mirrorRepo.ListUserSessions(ctx, userID, limit)
}

// SessionDetail reads one mirrored session and its transcript. The mirror is
// eventually consistent; a session may briefly be missing after Start.
func (s *PracticeService) SessionDetail(ctx context.Context, sessionID uuid.UUID) (*models.Session, []models.Turn, error) {
	sess, err := s.mirrorRepo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	turns, err := s.mirrorRepo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, turns, nil
}

// SessionUsage aggregates inference token usage for one session
func (s *PracticeService) SessionUsage(ctx context.Context, sessionID uuid.UUID) (*models.UsageSummary, error) {
	return s.usage.GetSessionUsage(ctx, sessionID)
}

// ProgressLeaders returns the most recently active user aggregates
func (s *PracticeService) ProgressLeaders(ctx context.Context, limit int) ([]*models.UserProgress, error) {
	return s.progressRepo.ListProgress(ctx, limit)
}
