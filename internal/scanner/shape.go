package scanner

import (
	"bytes"
	"crypto/md5"
	"hash"
	"unicode"
	"unicode/utf8"
)

// bodyShape consumes a response body as it streams and keeps only what the
// classifier needs: byte size, MD5, word and line counts. Words follow
// strings.Fields (runs of non-space runes) even when a multi-byte rune is
// split across writes.
type bodyShape struct {
	digest   hash.Hash
	size     int64
	words    int
	newlines int
	inWord   bool
	partial  []byte
}

func newBodyShape() *bodyShape {
	return &bodyShape{digest: md5.New(), partial: make([]byte, 0, utf8.UTFMax)}
}

func (b *bodyShape) Write(p []byte) (int, error) {
	n := len(p)
	b.digest.Write(p)
	b.size += int64(n)
	b.newlines += bytes.Count(p, []byte{'\n'})

	// Finish a rune split by the previous write one byte at a time.
	for len(b.partial) > 0 && len(p) > 0 {
		b.partial = b.scan(append(b.partial, p[0]))
		p = p[1:]
	}
	if len(p) > 0 {
		b.partial = append(b.partial[:0], b.scan(p)...)
	}
	return n, nil
}

// scan counts words over the complete runes of p and returns the incomplete
// tail.
func (b *bodyShape) scan(p []byte) []byte {
	for len(p) > 0 {
		if c := p[0]; c < utf8.RuneSelf {
			b.feed(rune(c))
			p = p[1:]
			continue
		}
		if !utf8.FullRune(p) {
			return p
		}
		r, size := utf8.DecodeRune(p)
		b.feed(r)
		p = p[size:]
	}
	return p
}

func (b *bodyShape) feed(r rune) {
	if unicode.IsSpace(r) {
		b.inWord = false
		return
	}
	if !b.inWord {
		b.words++
		b.inWord = true
	}
}

// finish fills the shape fields of resp. A truncated trailing rune counts as
// word content, as strings.Fields would treat it.
func (b *bodyShape) finish(resp *Response) {
	if len(b.partial) > 0 && !b.inWord {
		b.words++
	}
	resp.ContentLength = b.size
	copy(resp.BodyHash[:], b.digest.Sum(nil))
	resp.WordCount = b.words
	if b.size > 0 {
		resp.LineCount = b.newlines + 1
	}
}
