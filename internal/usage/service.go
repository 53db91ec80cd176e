package usage

import (
	"context"
	"log"
	"time"

	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
)

// Service handles inference usage tracking and persistence
type Service struct {
	repo ports.UsageRepository
}

// NewService creates a new usage service
func NewService(repo ports.UsageRepository) *Service {
	return &Service{repo: repo}
}

// RecordUsage asynchronously records token usage for an inference call.
// A nil usage payload is normal (the heuristic responder spends no tokens)
// and is skipped without error.
func (s *Service) RecordUsage(ctx context.Context, sessionID uuid.UUID, operationType string, usage *models.UsageData) error {
	if usage == nil {
		return nil
	}

	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 || usage.TotalTokens < 0 {
		log.Printf("[UsageService] ERROR: invalid token counts: %+v", usage)
		return nil
	}

	record := &models.InferenceUsage{
		ID:               uuid.New(),
		SessionID:        sessionID,
		Model:            usage.Model,
		OperationType:    operationType,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		CreatedAt:        time.Now(),
	}

	// Async persistence to avoid blocking the conversation path
	go func() {
		if err := s.persistWithRetry(record); err != nil {
			log.Printf("[UsageService] ERROR: failed to persist usage after retries: %v", err)
		}
	}()

	return nil
}

// persistWithRetry attempts to persist usage with linear backoff
func (s *Service) persistWithRetry(record *models.InferenceUsage) error {
	const maxRetries = 3
	const baseDelay = 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := s.repo.RecordUsage(context.Background(), record); err == nil {
			return nil
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(attempt+1) * baseDelay
			time.Sleep(delay)
		}
	}

	// Final attempt
	return s.repo.RecordUsage(context.Background(), record)
}

// GetSessionUsage returns aggregated token usage for one session
func (s *Service) GetSessionUsage(ctx context.Context, sessionID uuid.UUID) (*models.UsageSummary, error) {
	return s.repo.GetSessionUsage(ctx, sessionID)
}
