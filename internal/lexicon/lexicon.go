// Package lexicon holds the keyword dictionaries that drive knowledge-point
// inference, scenario detection and mistake detection.
//
// The dictionaries ship embedded as YAML and can be replaced at startup with
// a file of the same shape.
package lexicon

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var embedded []byte

// Mention is a knowledge point found in free text.
type Mention struct {
	Subject string
	Name    string
}

// Lexicon is an immutable set of dictionaries. Methods are safe for concurrent use.
type Lexicon struct {
	Subjects           map[string][]string `yaml:"subjects"`
	Prerequisites      map[string][]string `yaml:"prerequisites"`
	HelpIndicators     []string            `yaml:"help_indicators"`
	CorrectionKeywords []string            `yaml:"correction_keywords"`
	MistakeKeywords    struct {
		High   []string `yaml:"high"`
		Medium []string `yaml:"medium"`
	} `yaml:"mistake_keywords"`

	subjectOf    map[string]string
	subjectOrder []string
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the embedded dictionaries.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		l, err := Parse(embedded)
		if err != nil {
			panic(fmt.Sprintf("lexicon: embedded dictionary: %v", err))
		}
		defaultLex = l
	})
	return defaultLex
}

// Load reads a dictionary file. An empty path yields Default.
func Load(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and indexes a YAML dictionary.
func Parse(data []byte) (*Lexicon, error) {
	var l Lexicon
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("lexicon: decode: %w", err)
	}
	if len(l.Subjects) == 0 {
		return nil, errors.New("lexicon: no subjects defined")
	}
	if len(l.CorrectionKeywords) == 0 || len(l.MistakeKeywords.High) == 0 {
		return nil, errors.New("lexicon: correction and high-confidence mistake keywords are required")
	}

	l.subjectOf = make(map[string]string)
	for subj := range l.Subjects {
		l.subjectOrder = append(l.subjectOrder, subj)
	}
	sort.Strings(l.subjectOrder)
	for _, subj := range l.subjectOrder {
		words := l.Subjects[subj]
		for i, w := range words {
			words[i] = Normalize(w)
			if _, taken := l.subjectOf[words[i]]; !taken {
				l.subjectOf[words[i]] = subj
			}
		}
	}
	normalizeAll(l.HelpIndicators)
	normalizeAll(l.CorrectionKeywords)
	normalizeAll(l.MistakeKeywords.High)
	normalizeAll(l.MistakeKeywords.Medium)
	return &l, nil
}

func normalizeAll(words []string) {
	for i, w := range words {
		words[i] = Normalize(w)
	}
}

// Normalize applies NFKC (full-width to half-width among others) and case folding.
func Normalize(s string) string {
	// a Caser is stateful, so one per call
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// Matches returns the words from list found in text, in list order.
// text must already be normalized.
func Matches(text string, list []string) []string {
	var out []string
	for _, w := range list {
		if w != "" && strings.Contains(text, w) {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(text string, list []string) bool {
	for _, w := range list {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// IsHelpSeeking reports whether the text asks for help.
func (l *Lexicon) IsHelpSeeking(text string) bool {
	return containsAny(Normalize(text), l.HelpIndicators)
}

// HasCorrectionKeyword reports whether the text asks for grading.
func (l *Lexicon) HasCorrectionKeyword(text string) bool {
	return containsAny(Normalize(text), l.CorrectionKeywords)
}

// KnowledgePoints infers knowledge points mentioned in text. A blank subject
// searches every subject; an unknown subject finds nothing.
func (l *Lexicon) KnowledgePoints(subject, text string) []Mention {
	t := Normalize(text)
	if t == "" {
		return nil
	}
	subjects := l.subjectOrder
	if s := strings.TrimSpace(subject); s != "" {
		subjects = []string{s}
	}
	var out []Mention
	seen := map[string]bool{}
	for _, subj := range subjects {
		for _, w := range Matches(t, l.Subjects[subj]) {
			if seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, Mention{Subject: subj, Name: w})
		}
	}
	return out
}

// SubjectOf returns the subject a knowledge point belongs to, or "".
func (l *Lexicon) SubjectOf(name string) string {
	return l.subjectOf[Normalize(name)]
}

// PrerequisitesOf returns the prerequisite names for a knowledge point.
func (l *Lexicon) PrerequisitesOf(name string) []string {
	pre := l.Prerequisites[name]
	if len(pre) == 0 {
		pre = l.Prerequisites[Normalize(name)]
	}
	if len(pre) == 0 {
		return nil
	}
	return append([]string(nil), pre...)
}
