// Package terms turns free query text into the lexical search terms used
// against the graph and the smaller set of required terms that evidence must
// contain before an answer is allowed.
package terms

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Terms is the output of extraction.
type Terms struct {
	Search   []string
	Required []string
}

// Empty reports whether there is nothing to search for.
func (t Terms) Empty() bool { return len(t.Search) == 0 }

// Extractor applies a compiled Vocabulary. It is immutable and safe for
// concurrent use.
type Extractor struct {
	stop       map[string]bool
	geography  []string
	metrics    []string
	suffixes   []string
	exceptions map[string]bool
	bridges    []bridge
	maxTerms   int
}

type bridge struct {
	root  string
	forms []string
}

// New compiles v.
func New(v Vocabulary) *Extractor {
	e := &Extractor{
		stop:       toSet(v.Stopwords),
		geography:  normalizeAll(v.Geography),
		metrics:    normalizeAll(v.Metrics),
		suffixes:   normalizeAll(v.AdjectiveSuffixes),
		exceptions: toSet(v.SuffixExceptions),
		maxTerms:   v.MaxTerms,
	}
	if e.maxTerms <= 0 {
		e.maxTerms = DefaultMaxTerms
	}
	roots := make([]string, 0, len(v.Bridges))
	for root := range v.Bridges {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	for _, root := range roots {
		e.bridges = append(e.bridges, bridge{root: Normalize(root), forms: normalizeAll(v.Bridges[root])})
	}
	return e
}

// Default is an Extractor over DefaultVocabulary.
func Default() *Extractor { return New(DefaultVocabulary()) }

// Extract normalizes text into search terms and required terms. Explicit
// terms replace the tokenized text as the search set; required terms always
// come from the text itself.
func (e *Extractor) Extract(text string, explicit []string) Terms {
	norm := Normalize(text)

	var search []string
	source := norm
	if phrases := e.explicitTerms(explicit); len(phrases) > 0 {
		search = phrases
		source = strings.Join(phrases, " ")
	} else {
		for _, tok := range strings.Fields(norm) {
			if e.keep(tok) {
				search = append(search, tok)
			}
		}
	}
	search = append(search, e.bridged(source)...)

	return Terms{
		Search:   capped(dedupe(search), e.maxTerms),
		Required: capped(dedupe(e.required(norm)), e.maxTerms),
	}
}

func (e *Extractor) keep(tok string) bool {
	return utf8.RuneCountInString(tok) >= 2 && !e.stop[tok]
}

func (e *Extractor) explicitTerms(explicit []string) []string {
	var out []string
	for _, raw := range explicit {
		p := Normalize(raw)
		if p == "" {
			continue
		}
		if !strings.Contains(p, " ") && !e.keep(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// bridged emits the root and the concatenated spelling for every bridge form
// found in text.
func (e *Extractor) bridged(text string) []string {
	padded := " " + text + " "
	var out []string
	for _, b := range e.bridges {
		for _, form := range b.forms {
			if form == "" || !strings.Contains(padded, " "+form+" ") {
				continue
			}
			out = append(out, b.root, strings.ReplaceAll(form, " ", ""))
			break
		}
	}
	return out
}

// required collects factual markers: geography, metrics and adjectival
// demonyms reduced to their stem (jordanian -> jordan).
func (e *Extractor) required(norm string) []string {
	padded := " " + norm + " "
	var out []string
	for _, marker := range e.geography {
		if strings.Contains(padded, " "+marker+" ") {
			out = append(out, marker)
		}
	}
	for _, marker := range e.metrics {
		if strings.Contains(padded, " "+marker+" ") {
			out = append(out, marker)
		}
	}
	for _, tok := range strings.Fields(norm) {
		if stem, ok := e.demonymStem(tok); ok {
			out = append(out, stem)
		}
	}
	return out
}

func (e *Extractor) demonymStem(tok string) (string, bool) {
	if e.exceptions[tok] || !allLetters(tok) {
		return "", false
	}
	for _, suf := range e.suffixes {
		if suf == "" || !strings.HasSuffix(tok, suf) {
			continue
		}
		stem := strings.TrimSuffix(tok, suf)
		if utf8.RuneCountInString(stem) >= 4 {
			return stem, true
		}
	}
	return "", false
}

// Normalize lowercases s, turns hyphens and slashes into spaces, strips
// everything that is not a letter, digit or space, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '-' || r == '/' || unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Matches is the shared lexical rule: terms longer than three characters
// match as substrings, shorter ones only on word boundaries. text is
// expected to be lowercase already.
func Matches(text, term string) bool {
	if term == "" {
		return false
	}
	if utf8.RuneCountInString(term) > 3 {
		return strings.Contains(text, term)
	}
	return ContainsWord(text, term)
}

// ContainsWord reports whether word occurs in text delimited by non-word
// characters or the ends of text.
func ContainsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for start := 0; start <= len(text)-len(word); {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)
		if !wordBefore(text, i) && !wordAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

func wordBefore(text string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

func wordAfter(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func allLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[Normalize(w)] = true
	}
	return m
}

func normalizeAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n := Normalize(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func capped(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
