package llm

import (
	"context"
	"fmt"
	"strings"

	"rapport/models"
)

// Heuristic plays the simulated client with keyword rules instead of a model,
// so local development works without an API key. Replies are deterministic.
type Heuristic struct{}

// NewHeuristic creates the rule-based inference backend
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Respond picks a canned in-character reply keyed on the counselor's last line.
func (h *Heuristic) Respond(ctx context.Context, systemPrompt string, history []models.Turn) (*models.InferenceResult, error) {
	last := lastCounselorLine(history)
	return &models.InferenceResult{Content: h.replyFor(last, len(history))}, nil
}

// Assess scores the counselor's side of the transcript with simple rules and
// renders the feedback in the same shape the upstream model is prompted for.
func (h *Heuristic) Assess(ctx context.Context, history []models.Turn) (*models.InferenceResult, error) {
	score := h.scoreTranscript(history)
	feedback := fmt.Sprintf("%s Score: %d/10", h.summaryFor(score), score)
	return &models.InferenceResult{Content: feedback}, nil
}

func (h *Heuristic) replyFor(lastLine string, depth int) string {
	line := strings.ToLower(lastLine)

	switch {
	case h.containsAny(line, []string{"breath", "breathe", "relax", "slow down"}):
		return "Okay... I can try that. My chest still feels tight, but slowing down helps a little."
	case h.containsAny(line, []string{"sleep", "tired", "rest"}):
		return "Not well. I keep waking up at three in the morning and my mind just starts racing."
	case h.containsAny(line, []string{"feel", "feeling", "emotion"}):
		return "Honestly? Overwhelmed. Like everything is piling up faster than I can deal with it."
	case h.containsAny(line, []string{"work", "job", "boss"}):
		return "Work has been the worst part. Every deadline feels like it's stacked on the last one."
	case strings.Contains(line, "?"):
		return "I'm not sure. I haven't really let myself think about it until now."
	case depth >= 8:
		return "Talking it through like this actually helps. I didn't expect that."
	default:
		return "It's hard to put into words. Things have just felt heavier than usual lately."
	}
}

// scoreTranscript rates counselor engagement: sustained turns, open questions,
// and reflective language each move the score up from the neutral midpoint.
func (h *Heuristic) scoreTranscript(history []models.Turn) int {
	counselorTurns := 0
	questions := 0
	reflective := 0

	for _, turn := range history {
		if turn.Role != models.RoleCounselor {
			continue
		}
		counselorTurns++
		if strings.Contains(turn.Content, "?") {
			questions++
		}
		if h.containsAny(strings.ToLower(turn.Content), []string{"understand", "sounds like", "hear you", "that must", "together"}) {
			reflective++
		}
	}

	if counselorTurns == 0 {
		return 1
	}

	score := 5
	if counselorTurns >= 3 {
		score++
	}
	if questions > 0 {
		score++
	}
	if reflective > 0 {
		score += 2
	}
	if score > 10 {
		score = 10
	}
	return score
}

func (h *Heuristic) summaryFor(score int) string {
	switch {
	case score >= 8:
		return "Strong session. You reflected feelings back and kept the pace unhurried."
	case score >= 6:
		return "Solid work. Your open questions landed, though some answers went unexplored."
	case score >= 3:
		return "A difficult session. Try reflecting what you hear before offering direction."
	default:
		return "The client carried this session alone. Stay present and respond to what they bring."
	}
}

// containsAny checks if string contains any of the substrings
func (h *Heuristic) containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func lastCounselorLine(history []models.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleCounselor {
			return history[i].Content
		}
	}
	return ""
}
