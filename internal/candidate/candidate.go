// Package candidate expands a combined wordlist into the probe paths of a
// scan. Candidates are computed from their index on demand, so the full
// cross-product of words, extensions and encodings is never held in memory.
package candidate

import (
	"iter"
	"strings"
	"sync/atomic"
)

// Encoding is a bit set of additive path encodings. The plain form of every
// candidate is always emitted; each enabled encoding adds one variant.
type Encoding uint8

const (
	EncodeURL Encoding = 1 << iota
	EncodeDoubleURL
	EncodeNullByte

	// Plain marks a candidate emitted without any encoding.
	Plain Encoding = 0
)

var encodingOrder = []Encoding{EncodeURL, EncodeDoubleURL, EncodeNullByte}

func (e Encoding) String() string {
	switch e {
	case Plain:
		return "plain"
	case EncodeURL:
		return "url"
	case EncodeDoubleURL:
		return "double-url"
	case EncodeNullByte:
		return "null-byte"
	}
	var names []string
	for _, enc := range encodingOrder {
		if e&enc != 0 {
			names = append(names, enc.String())
		}
	}
	return strings.Join(names, ",")
}

// Count returns the number of encodings enabled in the set.
func (e Encoding) Count() int {
	n := 0
	for _, enc := range encodingOrder {
		if e&enc != 0 {
			n++
		}
	}
	return n
}

// Candidate is a single path to probe together with how it was generated.
type Candidate struct {
	Index     int
	Path      string
	Word      string   // source word; the raw pattern for fuzz candidates
	Extension string   // without the leading dot, empty for the bare word
	Encoding  Encoding // Plain or exactly one encoding
	Fuzz      bool     // traversal fuzz pattern probed against the root
}

// Options selects which transforms the generator applies.
type Options struct {
	Extensions []string
	Encodings  Encoding
	Patterns   []string // traversal fuzz patterns; nil disables fuzzing
}

// Generator produces the candidates of one scan configuration.
type Generator struct {
	words    []string
	exts     []string   // "" first for the bare word
	encs     []Encoding // Plain first
	patterns []string
	perWord  int
	total    int
}

// New builds a generator over words. Extensions are normalised (leading dot
// stripped, blanks and duplicates dropped) and empty or repeated patterns
// are skipped.
func New(words []string, opts Options) *Generator {
	g := &Generator{
		words: words,
		exts:  []string{""},
		encs:  []Encoding{Plain},
	}

	seenExt := map[string]struct{}{"": {}}
	for _, ext := range opts.Extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if _, ok := seenExt[ext]; ok {
			continue
		}
		seenExt[ext] = struct{}{}
		g.exts = append(g.exts, ext)
	}

	for _, enc := range encodingOrder {
		if opts.Encodings&enc != 0 {
			g.encs = append(g.encs, enc)
		}
	}

	seenPattern := make(map[string]struct{}, len(opts.Patterns))
	for _, p := range opts.Patterns {
		if p == "" {
			continue
		}
		if _, ok := seenPattern[p]; ok {
			continue
		}
		seenPattern[p] = struct{}{}
		g.patterns = append(g.patterns, p)
	}

	g.perWord = len(g.exts) * len(g.encs)
	g.total = len(g.words)*g.perWord + len(g.patterns)
	return g
}

// Len is the total number of candidates, known before any probing.
func (g *Generator) Len() int { return g.total }

// Words returns the number of source words.
func (g *Generator) Words() int { return len(g.words) }

// Patterns returns the number of fuzz patterns.
func (g *Generator) Patterns() int { return len(g.patterns) }

// At computes candidate i. Candidates are ordered by word, then extension
// (bare first), then encoding (plain first); fuzz patterns come last.
// It panics if i is out of range.
func (g *Generator) At(i int) Candidate {
	if i < 0 || i >= g.total {
		panic("candidate: index out of range")
	}

	wordSpan := len(g.words) * g.perWord
	if i >= wordSpan {
		p := g.patterns[i-wordSpan]
		return Candidate{Index: i, Path: p, Word: p, Fuzz: true}
	}

	word := g.words[i/g.perWord]
	r := i % g.perWord
	ext := g.exts[r/len(g.encs)]
	enc := g.encs[r%len(g.encs)]

	return Candidate{
		Index:     i,
		Path:      render(word, ext, enc),
		Word:      word,
		Extension: ext,
		Encoding:  enc,
	}
}

// All yields every candidate in order.
func (g *Generator) All() iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		for i := 0; i < g.total; i++ {
			if !yield(g.At(i)) {
				return
			}
		}
	}
}

// Cursor returns a new cursor positioned at the first candidate. Each
// cursor walks the sequence once; create another to restart.
func (g *Generator) Cursor() *Cursor {
	return &Cursor{g: g}
}

// Cursor hands out candidates to concurrent consumers. Every candidate is
// returned by Next exactly once.
type Cursor struct {
	g    *Generator
	next atomic.Int64
}

// Next claims the next candidate. It returns false once the sequence is
// exhausted and never blocks.
func (c *Cursor) Next() (Candidate, bool) {
	i := c.next.Add(1) - 1
	if i >= int64(c.g.total) {
		return Candidate{}, false
	}
	return c.g.At(int(i)), true
}

// Claimed returns how many candidates have been handed out so far.
func (c *Cursor) Claimed() int {
	n := c.next.Load()
	if n > int64(c.g.total) {
		return c.g.total
	}
	return int(n)
}

// Exhausted reports whether every candidate has been claimed.
func (c *Cursor) Exhausted() bool {
	return c.next.Load() >= int64(c.g.total)
}

func render(word, ext string, enc Encoding) string {
	plain := word
	if ext != "" {
		plain = word + "." + ext
	}

	switch enc {
	case EncodeURL:
		return percentEncode(plain)
	case EncodeDoubleURL:
		return strings.ReplaceAll(percentEncode(plain), "%", "%25")
	case EncodeNullByte:
		if ext != "" {
			return word + "%00." + ext
		}
		return word + "%00"
	default:
		return plain
	}
}

const upperHex = "0123456789ABCDEF"

// percentEncode encodes every byte of each path segment, keeping the '/'
// separators so multi-segment words stay multi-segment.
func percentEncode(p string) string {
	var b strings.Builder
	b.Grow(len(p) * 3)
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}
