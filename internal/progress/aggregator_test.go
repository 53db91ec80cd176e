package progress

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"rapport/internal"
	"rapport/internal/errors"
	"rapport/models"

	"github.com/google/uuid"
)

// fakeProgressRepo implements honest compare-and-swap semantics over an
// in-memory map, plus knobs that simulate losing races to a phantom writer
type fakeProgressRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.UserProgress

	failReads    bool
	insertRaces  int // next N inserts lose to a phantom writer
	swapRaces    int // next N swaps lose to a phantom writer
	phantomScore int
}

func newFakeProgressRepo() *fakeProgressRepo {
	return &fakeProgressRepo{
		rows:         make(map[uuid.UUID]models.UserProgress),
		phantomScore: 4,
	}
}

func (f *fakeProgressRepo) GetProgress(_ context.Context, userID uuid.UUID) (*models.UserProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errors.StorageUnavailable("progress read", fmt.Errorf("db down"))
	}
	row, ok := f.rows[userID]
	if !ok {
		return nil, errors.NotFound("user progress")
	}
	copied := row
	return &copied, nil
}

func (f *fakeProgressRepo) InsertProgress(_ context.Context, progress *models.UserProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertRaces > 0 {
		f.insertRaces--
		// The phantom writer's insert landed first
		f.rows[progress.UserID] = models.NewUserProgress(progress.UserID).WithScore(f.phantomScore)
		return errors.AggregationConflict(progress.UserID.String(), 1)
	}
	if _, exists := f.rows[progress.UserID]; exists {
		return errors.AggregationConflict(progress.UserID.String(), 1)
	}
	f.rows[progress.UserID] = *progress
	return nil
}

func (f *fakeProgressRepo) CompareAndSwapProgress(_ context.Context, progress *models.UserProgress, expectedCount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[progress.UserID]
	if !ok || row.SessionCount != expectedCount {
		return false, nil
	}
	if f.swapRaces > 0 {
		f.swapRaces--
		// The phantom writer commits between our read and our swap
		f.rows[progress.UserID] = row.WithScore(f.phantomScore)
		return false, nil
	}
	f.rows[progress.UserID] = *progress
	return true, nil
}

func (f *fakeProgressRepo) ListProgress(_ context.Context, limit int) ([]*models.UserProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.UserProgress, 0, len(f.rows))
	for _, row := range f.rows {
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeProgressRepo) stored(userID uuid.UUID) (models.UserProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID]
	return row, ok
}

func newTestAggregator(repo *fakeProgressRepo, maxRetries int) *Aggregator {
	return NewAggregator(repo, internal.NewLogger(internal.LogLevelError), maxRetries)
}

func TestAggregatorFirstCompletionCreatesRow(t *testing.T) {
	repo := newFakeProgressRepo()
	agg := newTestAggregator(repo, 5)
	userID := uuid.New()

	result, err := agg.RecordCompletion(context.Background(), userID, 7)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if result.SessionCount != 1 || result.AverageScore != 7.0 {
		t.Errorf("expected count 1 avg 7, got count %d avg %f", result.SessionCount, result.AverageScore)
	}
}

func TestAggregatorSurvivesInsertRace(t *testing.T) {
	repo := newFakeProgressRepo()
	repo.insertRaces = 1
	agg := newTestAggregator(repo, 5)
	userID := uuid.New()

	result, err := agg.RecordCompletion(context.Background(), userID, 8)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// Phantom writer contributed a 4, we contributed an 8
	if result.SessionCount != 2 {
		t.Errorf("expected count 2 after insert race, got %d", result.SessionCount)
	}
	if math.Abs(result.AverageScore-6.0) > 1e-9 {
		t.Errorf("expected avg 6 after insert race, got %f", result.AverageScore)
	}
}

func TestAggregatorSurvivesSwapRace(t *testing.T) {
	repo := newFakeProgressRepo()
	agg := newTestAggregator(repo, 5)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := agg.RecordCompletion(ctx, userID, 6); err != nil {
		t.Fatalf("seed record failed: %v", err)
	}

	repo.mu.Lock()
	repo.swapRaces = 1
	repo.mu.Unlock()

	result, err := agg.RecordCompletion(ctx, userID, 8)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// Seed 6, phantom 4, ours 8
	if result.SessionCount != 3 {
		t.Errorf("expected count 3 after swap race, got %d", result.SessionCount)
	}
	if math.Abs(result.AverageScore-6.0) > 1e-9 {
		t.Errorf("expected avg 6 after swap race, got %f", result.AverageScore)
	}
}

func TestAggregatorGivesUpAfterBoundedRetries(t *testing.T) {
	repo := newFakeProgressRepo()
	agg := newTestAggregator(repo, 3)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := agg.RecordCompletion(ctx, userID, 6); err != nil {
		t.Fatalf("seed record failed: %v", err)
	}

	repo.mu.Lock()
	repo.swapRaces = 1000
	repo.mu.Unlock()

	_, err := agg.RecordCompletion(ctx, userID, 8)
	if !errors.IsCode(err, errors.CodeAggregationConflict) {
		t.Errorf("expected AGGREGATION_CONFLICT after exhausted retries, got %v", err)
	}
}

func TestAggregatorPropagatesReadFailures(t *testing.T) {
	repo := newFakeProgressRepo()
	repo.failReads = true
	agg := newTestAggregator(repo, 3)

	_, err := agg.RecordCompletion(context.Background(), uuid.New(), 5)
	if !errors.IsCode(err, errors.CodeStorageUnavailable) {
		t.Errorf("expected STORAGE_UNAVAILABLE, got %v", err)
	}
}

func TestAggregatorConcurrentCompletionsExactMean(t *testing.T) {
	repo := newFakeProgressRepo()
	agg := newTestAggregator(repo, 50)
	userID := uuid.New()
	ctx := context.Background()

	scores := []int{3, 4, 5, 6, 7, 8, 9, 10}
	var wg sync.WaitGroup
	for _, score := range scores {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			if _, err := agg.RecordCompletion(ctx, userID, score); err != nil {
				t.Errorf("concurrent record failed: %v", err)
			}
		}(score)
	}
	wg.Wait()

	row, ok := repo.stored(userID)
	if !ok {
		t.Fatal("no aggregate row after concurrent completions")
	}
	if row.SessionCount != len(scores) {
		t.Fatalf("lost updates: count %d, want %d", row.SessionCount, len(scores))
	}

	var sum int
	for _, score := range scores {
		sum += score
	}
	want := float64(sum) / float64(len(scores))
	if math.Abs(row.AverageScore-want) > 1e-9 {
		t.Errorf("average drifted under concurrency: got %f, want %f", row.AverageScore, want)
	}
}
