// Package tokenizer turns free text into the normalized token set the
// segment index is keyed by. Text is NFKC-folded and lower-cased, then split
// into script runs: Latin/digit runs become word tokens directly, CJK runs
// are cut by a dictionary segmenter.
package tokenizer

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-ego/gse"
	"golang.org/x/text/unicode/norm"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Tokenizer is safe for concurrent use once constructed.
type Tokenizer struct {
	seg      *gse.Segmenter
	filtered map[string]struct{}
	minLen   int
	logger   *slog.Logger
}

// New loads the configured dictionaries. With segmentation disabled every
// CJK run is kept as a single token.
func New(cfg config.SegmentConfig) (*Tokenizer, error) {
	t := &Tokenizer{
		filtered: make(map[string]struct{}, len(stopWords)+len(cfg.FilteredWords)),
		minLen:   cfg.MinTokenLength,
		logger:   slog.Default().With("component", "tokenizer"),
	}
	if t.minLen <= 0 {
		t.minLen = 1
	}
	for w := range stopWords {
		t.filtered[w] = struct{}{}
	}
	for _, w := range cfg.FilteredWords {
		if w = normalize(strings.TrimSpace(w)); w != "" {
			t.filtered[w] = struct{}{}
		}
	}
	if !cfg.Enabled {
		t.logger.Warn("dictionary segmentation disabled, CJK runs are indexed whole")
		return t, nil
	}

	files := make([]string, 0, len(cfg.DictFiles)+1)
	for _, f := range cfg.DictFiles {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	if cfg.UserDictFile != "" {
		if _, err := os.Stat(cfg.UserDictFile); err != nil {
			return nil, fmt.Errorf("user dictionary %s: %w", cfg.UserDictFile, err)
		}
		files = append(files, cfg.UserDictFile)
	}
	seg := &gse.Segmenter{}
	seg.SkipLog = true
	var err error
	if len(files) == 0 {
		err = seg.LoadDictEmbed()
	} else {
		err = seg.LoadDict(files...)
	}
	if err != nil {
		return nil, fmt.Errorf("loading segment dictionaries %v: %w", files, err)
	}
	t.seg = seg
	t.logger.Info("segmenter ready", "dictionaries", len(files), "filtered_words", len(t.filtered))
	return t, nil
}

// Tokenize returns the sorted, deduplicated token set of all texts. Blank
// input yields an empty slice.
func (t *Tokenizer) Tokenize(texts ...string) []string {
	set := make(map[string]struct{})
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, r := range splitRuns(normalize(text)) {
			if r.cjk {
				t.addCJK(set, r.text)
				continue
			}
			if utf8.RuneCountInString(r.text) < t.minLen {
				continue
			}
			t.add(set, r.text)
		}
	}
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Normalize applies the same folding Tokenize uses, so callers can compare a
// raw keyword against emitted tokens.
func Normalize(s string) string {
	return normalize(strings.TrimSpace(s))
}

func (t *Tokenizer) addCJK(set map[string]struct{}, run string) {
	if t.seg == nil {
		t.add(set, run)
		return
	}
	for _, w := range t.seg.CutAll(run) {
		t.add(set, strings.TrimSpace(w))
	}
}

func (t *Tokenizer) add(set map[string]struct{}, tok string) {
	if tok == "" {
		return
	}
	if _, skip := t.filtered[tok]; skip {
		return
	}
	set[tok] = struct{}{}
}

func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

type run struct {
	text string
	cjk  bool
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isJoiner reports whether r may sit inside a word run, as in stage codes
// like 1-7, h12-4 or ex_8.
func isJoiner(r rune) bool {
	return r == '-' || r == '_' || r == '.'
}

// splitRuns cuts s into maximal runs of CJK characters and of other
// letters/digits, dropping everything else. A joiner between two non-CJK
// word characters stays in its run.
func splitRuns(s string) []run {
	var runs []run
	start := -1
	cjk := false
	flush := func(end int) {
		if start >= 0 {
			runs = append(runs, run{text: s[start:end], cjk: cjk})
			start = -1
		}
	}
	for i, r := range s {
		switch {
		case isCJK(r):
			if start >= 0 && !cjk {
				flush(i)
			}
			if start < 0 {
				start, cjk = i, true
			}
		case isWord(r):
			if start >= 0 && cjk {
				flush(i)
			}
			if start < 0 {
				start, cjk = i, false
			}
		case isJoiner(r) && start >= 0 && !cjk:
			next, _ := utf8.DecodeRuneInString(s[i+utf8.RuneLen(r):])
			if !isWord(next) || isCJK(next) {
				flush(i)
			}
		default:
			flush(i)
		}
	}
	flush(len(s))
	return runs
}
