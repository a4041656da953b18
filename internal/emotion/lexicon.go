package emotion

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one emotion and the words that signal it.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Lexicon is ordered; ties in Dominant resolve to the earlier category.
type Lexicon []Category

func DefaultLexicon() Lexicon {
	return Lexicon{
		{Name: "joy", Keywords: []string{"happy", "excited", "thrilled", "delighted", "cheerful", "glad", "pleased"}},
		{Name: "sadness", Keywords: []string{"sad", "depressed", "upset", "disappointed", "heartbroken", "down"}},
		{Name: "anger", Keywords: []string{"angry", "furious", "mad", "irritated", "annoyed", "frustrated"}},
		{Name: "fear", Keywords: []string{"scared", "afraid", "terrified", "anxious", "worried", "nervous"}},
		{Name: "surprise", Keywords: []string{"surprised", "shocked", "amazed", "astonished", "stunned"}},
		{Name: "disgust", Keywords: []string{"disgusted", "revolted", "sick", "nauseated", "repulsed"}},
	}
}

// LoadLexicon reads a YAML list of categories:
//
//	- name: joy
//	  keywords: [happy, glad]
func LoadLexicon(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}

	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if err := lex.validate(); err != nil {
		return nil, err
	}
	return lex.normalized(), nil
}

func (l Lexicon) validate() error {
	if len(l) == 0 {
		return fmt.Errorf("lexicon is empty")
	}
	seen := make(map[string]bool, len(l))
	for i, c := range l {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" {
			return fmt.Errorf("lexicon entry %d has no name", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate emotion %q", name)
		}
		seen[name] = true
		if len(c.Keywords) == 0 {
			return fmt.Errorf("emotion %q has no keywords", name)
		}
		for _, k := range c.Keywords {
			if strings.TrimSpace(k) != "" && phrase(k) == "" {
				return fmt.Errorf("emotion %q: keyword %q has no words", name, k)
			}
		}
	}
	return nil
}

// phrase reduces a keyword to the space-joined tokens Detect compares
// against, so "Heart-Broken" matches the text "heart broken".
func phrase(k string) string {
	return strings.Join(tokenRe.FindAllString(strings.ToLower(k), -1), " ")
}

func (l Lexicon) normalized() Lexicon {
	out := make(Lexicon, len(l))
	for i, c := range l {
		kws := make([]string, 0, len(c.Keywords))
		for _, k := range c.Keywords {
			if k = phrase(k); k != "" {
				kws = append(kws, k)
			}
		}
		out[i] = Category{Name: strings.ToLower(strings.TrimSpace(c.Name)), Keywords: kws}
	}
	return out
}

func (l Lexicon) Names() []string {
	names := make([]string, len(l))
	for i, c := range l {
		names[i] = c.Name
	}
	return names
}
