package progress

import (
	"regexp"
	"strconv"
)

// DefaultScore stands in when no rating can be read out of feedback text.
// Assessments arrive as free text, so a midpoint default keeps one garbled
// reply from skewing a user's aggregate in either direction.
const DefaultScore = 5

var (
	labeledScore = regexp.MustCompile(`(?i)\bscore\s*[:=]?\s*(10|[1-9])\b`)
	ratioScore   = regexp.MustCompile(`\b(10|[1-9])\s*/\s*10\b`)
	bareScore    = regexp.MustCompile(`\b(10|[1-9])\b`)
)

// ExtractScore pulls a 1 to 10 rating out of assessment feedback. A labeled
// "score: N" wins over an "N/10" ratio, which wins over the first bare
// number in range. Feedback with no readable rating yields DefaultScore and
// ok false.
func ExtractScore(feedback string) (score int, ok bool) {
	for _, pattern := range []*regexp.Regexp{labeledScore, ratioScore, bareScore} {
		if m := pattern.FindStringSubmatch(feedback); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return n, true
		}
	}
	return DefaultScore, false
}
