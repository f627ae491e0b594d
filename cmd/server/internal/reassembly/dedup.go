package reassembly

import (
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/go-dedup/simhash"
)

// DedupOptions controls overlap deduplication between adjacent chunks.
// It is off by default: chunk overlap text is kept as-is unless enabled.
type DedupOptions struct {
	Enabled bool `yaml:"enabled"`
	// MaxDistance is the largest Hamming distance (of 64 bits) at which two
	// sentences count as the same.
	MaxDistance int `yaml:"max_distance"`
	// Window is how many sentences at each side of a boundary are compared.
	Window int `yaml:"window"`
}

func DefaultDedupOptions() DedupOptions {
	return DedupOptions{MaxDistance: 3, Window: 2}
}

// DedupOverlap drops leading sentences of each piece that repeat one of the
// trailing sentences of the previous successful piece. Comparison stops at
// the first leading sentence with no match. pieces are returned in Index
// order; the input slice is not modified.
func DedupOverlap(pieces []Piece, opts DedupOptions, useRaw bool) []Piece {
	out := slices.Clone(pieces)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	if !opts.Enabled || len(out) < 2 {
		return out
	}
	window := opts.Window
	if window <= 0 {
		window = 1
	}

	prev := -1
	for i := range out {
		if out[i].Failed {
			continue
		}
		if prev >= 0 {
			tail := lastN(SplitSentences(out[prev].text(useRaw)), window)
			head := SplitSentences(out[i].text(useRaw))

			drop := 0
			for drop < len(head) && drop < window && matchesAny(head[drop], tail, opts.MaxDistance) {
				drop++
			}
			if drop > 0 {
				rest := strings.Join(head[drop:], " ")
				if useRaw {
					out[i].RawText = rest
				} else {
					out[i].Text = rest
				}
			}
		}
		prev = i
	}
	return out
}

func matchesAny(sentence string, candidates []string, maxDistance int) bool {
	fp := Fingerprint(sentence)
	if fp == 0 {
		return false
	}
	for _, c := range candidates {
		if int(simhash.Compare(fp, Fingerprint(c))) <= maxDistance {
			return true
		}
	}
	return false
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// SplitSentences splits on terminal punctuation, keeping the punctuation
// with its sentence.
func SplitSentences(text string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		if isTerminal(r) {
			flush()
		}
	}
	flush()
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；':
		return true
	}
	return false
}

// sentenceFeatures extracts word unigrams and bigrams for spaced scripts
// and character bigrams for Han text. Case and punctuation are ignored.
type sentenceFeatures struct {
	text string
}

func (s sentenceFeatures) GetFeatures() []simhash.Feature {
	tokens := tokenize(s.text)
	if len(tokens) == 0 {
		return nil
	}
	features := make([]simhash.Feature, 0, 2*len(tokens))
	for i, tok := range tokens {
		features = append(features, simhash.NewFeature([]byte(tok)))
		if i > 0 {
			features = append(features, simhash.NewFeature([]byte(tokens[i-1]+" "+tok)))
		}
	}
	return features
}

// tokenize lowercases text, drops punctuation and splits Han runs into
// single characters.
func tokenize(text string) []string {
	var (
		tokens []string
		word   []rune
	)
	flush := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	for _, r := range Normalize(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// Fingerprint returns the 64-bit simhash of sentence; 0 for text with no
// tokens.
func Fingerprint(sentence string) uint64 {
	fs := sentenceFeatures{text: sentence}
	if len(fs.GetFeatures()) == 0 {
		return 0
	}
	return simhash.NewSimhash().GetSimhash(fs)
}
