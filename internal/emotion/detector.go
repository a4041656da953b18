// Package emotion scores text for emotions and overall sentiment.
package emotion

import (
	"context"
	log "log/slog"
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z]+(?:'[a-z]+)?`)

const Neutral = "neutral"

type Analysis struct {
	Text       string             `json:"text"`
	Sentiment  Sentiment          `json:"sentiment"`
	Emotions   map[string]float64 `json:"emotions"`
	Dominant   string             `json:"dominant_emotion"`
	Confidence float64            `json:"confidence"`
	// Confident is set when Confidence reaches the detector threshold.
	Confident  bool   `json:"confident"`
	Source     string `json:"source"`
	TextLength int    `json:"text_length"`
	WordCount  int    `json:"word_count"`
}

type Detector struct {
	lex        Lexicon
	threshold  float64
	classifier Classifier
}

type Option func(*Detector)

// WithClassifier adds a fallback consulted when no keyword matches.
func WithClassifier(c Classifier) Option {
	return func(d *Detector) { d.classifier = c }
}

func WithLexicon(l Lexicon) Option {
	return func(d *Detector) {
		if len(l) > 0 {
			d.lex = l.normalized()
		}
	}
}

func NewDetector(threshold float64, opts ...Option) *Detector {
	d := &Detector{
		lex:       DefaultLexicon(),
		threshold: threshold,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Detector) Lexicon() Lexicon { return d.lex }

// Detect scores every emotion as the share of its keywords present in text.
func (d *Detector) Detect(text string) map[string]float64 {
	words, padded := tokenize(text)

	scores := make(map[string]float64, len(d.lex))
	for _, c := range d.lex {
		hits := 0
		for _, k := range c.Keywords {
			if strings.Contains(k, " ") {
				if strings.Contains(padded, " "+k+" ") {
					hits++
				}
			} else if _, ok := words[k]; ok {
				hits++
			}
		}
		if len(c.Keywords) > 0 {
			scores[c.Name] = float64(hits) / float64(len(c.Keywords))
		} else {
			scores[c.Name] = 0
		}
	}
	return scores
}

// Dominant returns the highest scoring emotion, or neutral when nothing matched.
func (d *Detector) Dominant(text string) (string, float64) {
	return d.dominant(d.Detect(text))
}

func (d *Detector) dominant(scores map[string]float64) (string, float64) {
	best, bestScore := Neutral, 0.0
	for _, c := range d.lex {
		if s := scores[c.Name]; s > bestScore {
			best, bestScore = c.Name, s
		}
	}
	return best, bestScore
}

// Analyze bundles sentiment, per-emotion scores and the dominant emotion.
func (d *Detector) Analyze(ctx context.Context, text string) Analysis {
	scores := d.Detect(text)
	dom, conf := d.dominant(scores)

	a := Analysis{
		Text:       text,
		Sentiment:  Polarity(text),
		Emotions:   scores,
		Dominant:   dom,
		Confidence: conf,
		Source:     "lexicon",
		TextLength: len([]rune(text)),
		WordCount:  len(strings.Fields(text)),
	}

	if dom == Neutral && d.classifier != nil && strings.TrimSpace(text) != "" {
		c, err := d.classifier.Classify(ctx, text)
		if err != nil {
			log.Warn("Emotion classifier failed", "err", err)
		} else if c.Dominant != "" && c.Dominant != Neutral {
			a.Dominant = c.Dominant
			a.Confidence = c.Confidence
			a.Source = "llm"
			if c.Sentiment != "" && a.Sentiment.Label == LabelNeutral {
				a.Sentiment.Label = c.Sentiment
			}
		}
	}

	a.Confident = a.Dominant != Neutral && a.Confidence >= d.threshold
	return a
}

func tokenize(text string) (map[string]struct{}, string) {
	toks := tokenRe.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set, " " + strings.Join(toks, " ") + " "
}
