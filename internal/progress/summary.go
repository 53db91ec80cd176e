package progress

import (
	"rapport/models"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// Summarize builds distribution statistics over a user's session scores.
// The stored aggregate supplies count and average; the individual scores,
// in completion order, supply the distribution and the improvement trend.
// The two inputs can disagree while the mirror is catching up, in which
// case the aggregate wins for the fields it covers.
func Summarize(userID uuid.UUID, aggregate *models.UserProgress, scores []int) (*models.ProgressSummary, error) {
	summary := &models.ProgressSummary{UserID: userID}

	if aggregate != nil {
		summary.SessionCount = aggregate.SessionCount
		summary.AverageScore = aggregate.AverageScore
	}
	if len(scores) == 0 {
		return summary, nil
	}

	data := make(stats.Float64Data, len(scores))
	for i, score := range scores {
		data[i] = float64(score)
	}

	if aggregate == nil {
		summary.SessionCount = len(scores)
		mean, err := stats.Mean(data)
		if err != nil {
			return nil, err
		}
		summary.AverageScore = mean
	}

	median, err := stats.Median(data)
	if err != nil {
		return nil, err
	}
	summary.MedianScore = median

	stdDev, err := stats.StandardDeviation(data)
	if err != nil {
		return nil, err
	}
	summary.StdDev = stdDev

	minScore, err := stats.Min(data)
	if err != nil {
		return nil, err
	}
	summary.MinScore = minScore

	maxScore, err := stats.Max(data)
	if err != nil {
		return nil, err
	}
	summary.MaxScore = maxScore

	// Slope of score over completion index; needs at least two sessions
	if len(data) >= 2 {
		xs := make([]float64, len(data))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope := stat.LinearRegression(xs, data, nil, false)
		summary.TrendSlope = slope
	}

	return summary, nil
}
