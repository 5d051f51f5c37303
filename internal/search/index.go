// Package search is the curriculum reference index used to ground tutoring
// answers. Paragraphs of a Markdown file are indexed once and queried with
// Jaccard similarity over token sets: score = |Q ∩ P| / |Q ∪ P|.
//
// Latin and digit runs are single tokens. Han runs have no word breaks, so
// they are split into overlapping bigrams ("勾股定理" becomes 勾股, 股定, 定理).
// Text is NFKC-normalized and case-folded before tokenizing. The index is
// immutable after construction and safe for concurrent use.
package search

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Result is a ranked paragraph with its similarity score.
type Result struct {
	Snippet string
	Score   float64
}

// Index is implemented by all reference indices.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

type Option func(*config)

type config struct {
	minParagraphRunes int
	stopwords         map[string]struct{}
	maxDocs           int
}

func defaultConfig() config {
	return config{minParagraphRunes: 12}
}

// WithMinParagraphRunes drops paragraphs shorter than n runes.
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minParagraphRunes = n
		}
	}
}

// WithStopwords removes tokens from both documents and queries. Chinese
// stopwords are given as bigrams or single characters.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			if w = fold(w); w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of indexed paragraphs.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

type doc struct {
	text   string
	tokens map[string]struct{}
	runes  int
}

type index struct {
	cfg  config
	docs []doc
}

// Empty returns an index with no paragraphs.
func Empty() Index { return &index{cfg: defaultConfig()} }

// NewIndexFromMarkdown prepares the Markdown at path (see Prepare) and
// indexes its paragraphs.
func NewIndexFromMarkdown(path string, opts ...Option) (Index, error) {
	b, err := Prepare(path)
	if err != nil {
		return Empty(), err
	}
	return NewIndexFromReader(bytes.NewReader(b), opts...)
}

// NewIndexFromReader indexes UTF-8 text from r, split on blank lines.
func NewIndexFromReader(r io.Reader, opts ...Option) (Index, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	all, err := io.ReadAll(r)
	if err != nil {
		return &index{cfg: cfg}, err
	}
	return buildIndex(splitParas(string(all)), cfg), nil
}

// NewIndexFromStrings indexes the given paragraphs.
func NewIndexFromStrings(paragraphs []string, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(paragraphs, cfg)
}

func buildIndex(paragraphs []string, cfg config) *index {
	docs := make([]doc, 0, len(paragraphs))
	for _, raw := range paragraphs {
		t := strings.TrimSpace(collapseSpaces(raw))
		n := utf8.RuneCountInString(t)
		if t == "" || (cfg.minParagraphRunes > 0 && n < cfg.minParagraphRunes) {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{text: t, tokens: toks, runes: n})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

func (i *index) Len() int { return len(i.docs) }

// TopK returns up to k paragraphs by descending score; ties prefer the
// shorter paragraph, then lexical order. k <= 0 means 3.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qt := tokenize(q, i.cfg.stopwords)
	if len(qt) == 0 {
		return nil
	}

	type scored struct {
		doc   *doc
		score float64
	}
	var buf []scored
	for n := range i.docs {
		d := &i.docs[n]
		over := overlap(qt, d.tokens)
		if over == 0 {
			continue
		}
		buf = append(buf, scored{d, float64(over) / float64(len(qt)+len(d.tokens)-over)})
	}
	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].doc.runes != buf[b].doc.runes {
			return buf[a].doc.runes < buf[b].doc.runes
		}
		return buf[a].doc.text < buf[b].doc.text
	})
	k = min(k, len(buf))
	if k == 0 {
		return nil
	}
	out := make([]Result, k)
	for n := 0; n < k; n++ {
		out[n] = Result{Snippet: buf[n].doc.text, Score: buf[n].score}
	}
	return out
}

// Lookup returns up to k snippets scoring at least threshold.
func Lookup(idx Index, q string, k int, threshold float64) []string {
	if idx == nil {
		return nil
	}
	var out []string
	for _, r := range idx.TopK(q, k) {
		if r.Score >= threshold {
			out = append(out, r.Snippet)
		}
	}
	return out
}

func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	add := func(tok string) {
		if _, skip := stop[tok]; !skip {
			out[tok] = struct{}{}
		}
	}
	var word strings.Builder
	var han []rune
	flushWord := func() {
		if word.Len() > 0 {
			add(word.String())
			word.Reset()
		}
	}
	flushHan := func() {
		switch len(han) {
		case 0:
		case 1:
			add(string(han))
		default:
			for j := 0; j+1 < len(han); j++ {
				add(string(han[j : j+2]))
			}
		}
		han = han[:0]
	}
	for _, r := range fold(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word.WriteRune(r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	if len(out) == 0 {
		return nil
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prev := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '　' {
			if !prev {
				b.WriteByte(' ')
				prev = true
			}
			continue
		}
		prev = false
		b.WriteRune(r)
	}
	return b.String()
}

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

func splitParas(raw string) []string {
	chunks := paraSplitRE.Split(raw, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// readFile is swapped in tests.
var readFile = os.ReadFile
