package emotion

import (
	"sync"

	"github.com/jonreiter/govader"
)

const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"

	labelCutoff = 0.1
)

type Sentiment struct {
	Polarity     float64 `json:"polarity"`
	Subjectivity float64 `json:"subjectivity"`
	Label        string  `json:"sentiment"`
}

var vader = sync.OnceValue(govader.NewSentimentIntensityAnalyzer)

// Polarity scores text with VADER. Polarity is the compound score in [-1, 1];
// Subjectivity is the share of the text carrying any sentiment.
func Polarity(text string) Sentiment {
	scores := vader().PolarityScores(text)

	s := Sentiment{
		Polarity:     clamp(scores.Compound, -1, 1),
		Subjectivity: clamp(scores.Positive+scores.Negative, 0, 1),
	}
	s.Label = label(s.Polarity)
	return s
}

func label(polarity float64) string {
	switch {
	case polarity > labelCutoff:
		return LabelPositive
	case polarity < -labelCutoff:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
