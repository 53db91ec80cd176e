package session

import (
	"testing"

	"rapport/models"

	"github.com/google/uuid"
)

func TestLogAppendAssignsContiguousSequence(t *testing.T) {
	log := NewLog()
	sessionID := uuid.New()

	for i := 0; i < 5; i++ {
		role := models.RoleCounselor
		if i%2 == 1 {
			role = models.RoleClient
		}
		turn := log.Append(sessionID, role, "turn")
		if turn.Seq != i {
			t.Errorf("turn %d got seq %d", i, turn.Seq)
		}
	}

	if log.Len() != 5 {
		t.Errorf("expected 5 turns, got %d", log.Len())
	}
}

func TestLogTruncateUnwindsAppend(t *testing.T) {
	log := NewLog()
	sessionID := uuid.New()

	log.Append(sessionID, models.RoleCounselor, "hello")
	turn := log.Append(sessionID, models.RoleClient, "hi")
	log.Truncate(turn.Seq)

	if log.Len() != 1 {
		t.Fatalf("expected 1 turn after truncate, got %d", log.Len())
	}

	// The freed sequence number must be reused
	next := log.Append(sessionID, models.RoleClient, "hi again")
	if next.Seq != 1 {
		t.Errorf("expected seq 1 after truncate, got %d", next.Seq)
	}
}

func TestLogSnapshotIsACopy(t *testing.T) {
	log := NewLog()
	sessionID := uuid.New()
	log.Append(sessionID, models.RoleCounselor, "original")

	snap := log.Snapshot()
	snap[0].Content = "mutated"

	if log.Snapshot()[0].Content != "original" {
		t.Error("mutating a snapshot changed the log")
	}
}

func TestLogRestoreRejectsGaps(t *testing.T) {
	log := NewLog()
	sessionID := uuid.New()

	turns := []models.Turn{
		{SessionID: sessionID, Seq: 0, Role: models.RoleCounselor, Content: "a"},
		{SessionID: sessionID, Seq: 2, Role: models.RoleClient, Content: "b"},
	}
	if err := log.Restore(turns); err == nil {
		t.Error("expected error restoring a log with a sequence gap")
	}

	turns[1].Seq = 1
	if err := log.Restore(turns); err != nil {
		t.Errorf("contiguous restore failed: %v", err)
	}
	if log.Len() != 2 {
		t.Errorf("expected 2 turns after restore, got %d", log.Len())
	}
}
