package filter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/maxvaer/pathhunter/internal/scanner"
)

// ErrTargetUnreachable is returned by NewSmartFilter when no calibration
// request got any HTTP response at all.
var ErrTargetUnreachable = errors.New("target unreachable")

const (
	bareSamples      = 5 // random names without an extension
	extensionSamples = 3 // random names per configured extension
	calibrationPrefix     = "pathhunter_calib_"
)

// signature is what a server answers for paths that do not exist, for one
// status code. Exact signatures compare the body hash; loose ones compare
// size, word and line counts because the page embeds something per request
// (the path, a nonce) that changes the bytes.
type signature struct {
	status int
	exact  bool
	hash   [16]byte
	size   int64
	words  int
	lines  int
}

// SmartFilter drops soft-404s: responses that look like what the target
// returned for random names during calibration. Signatures are kept per
// extension, since servers often route "*.php" misses to a different handler
// than bare names.
type SmartFilter struct {
	bySuffix  map[string][]signature // "" holds bare names
	tolerance int64
}

type sample struct {
	status int
	hash   [16]byte
	size   int64
	words  int
	lines  int
}

// NewSmartFilter calibrates against the target: five random bare names plus
// three random names per extension. It fails with ErrTargetUnreachable when
// every request fails at the transport level, and with a plain error when no
// status code answered consistently enough to learn a signature.
func NewSmartFilter(ctx context.Context, req *scanner.Requester, threshold int, extensions []string) (*SmartFilter, error) {
	samples := make(map[string][]sample)
	var lastErr error
	sent := 0

	for _, suffix := range calibrationSuffixes(extensions) {
		n := extensionSamples
		if suffix == "" {
			n = bareSamples
		}
		for range n {
			sent++
			resp, err := req.Do(ctx, randomName(suffix))
			if err != nil {
				lastErr = err
				continue
			}
			samples[suffix] = append(samples[suffix], sample{
				status: resp.StatusCode,
				hash:   resp.BodyHash,
				size:   resp.ContentLength,
				words:  resp.WordCount,
				lines:  resp.LineCount,
			})
		}
	}

	if len(samples) == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: %d calibration requests failed, last: %v", ErrTargetUnreachable, sent, lastErr)
	}

	sf := &SmartFilter{bySuffix: make(map[string][]signature), tolerance: int64(threshold)}
	for suffix, group := range samples {
		if sigs := learn(group, sf.tolerance); len(sigs) > 0 {
			sf.bySuffix[suffix] = sigs
		}
	}
	if sf.Baselines() == 0 {
		return nil, errors.New("calibration responses were inconsistent, no soft-404 signature learned")
	}
	return sf, nil
}

// calibrationSuffixes returns "" followed by each distinct extension without
// its leading dot, the same normalisation the candidate generator applies.
func calibrationSuffixes(extensions []string) []string {
	suffixes := []string{""}
	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if !slices.Contains(suffixes, ext) {
			suffixes = append(suffixes, ext)
		}
	}
	return suffixes
}

func randomName(suffix string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	name := calibrationPrefix + hex.EncodeToString(buf)
	if suffix != "" {
		name += "." + suffix
	}
	return name
}

// learn turns samples into signatures. A status code needs at least two
// answers; identical bodies give an exact signature, sizes within tolerance
// of the median give a loose one, anything else is too noisy to use.
func learn(samples []sample, tolerance int64) []signature {
	byStatus := make(map[int][]sample)
	for _, s := range samples {
		byStatus[s.status] = append(byStatus[s.status], s)
	}

	var sigs []signature
	for status, group := range byStatus {
		if len(group) < 2 {
			continue
		}
		first := group[0]
		if !slices.ContainsFunc(group, func(s sample) bool { return s.hash != first.hash }) {
			sigs = append(sigs, signature{
				status: status, exact: true, hash: first.hash,
				size: first.size, words: first.words, lines: first.lines,
			})
			continue
		}

		size := median(group, func(s sample) int64 { return s.size })
		if slices.ContainsFunc(group, func(s sample) bool { return distance(s.size, size) > tolerance }) {
			continue
		}
		sigs = append(sigs, signature{
			status: status,
			size:   size,
			words:  int(median(group, func(s sample) int64 { return int64(s.words) })),
			lines:  int(median(group, func(s sample) int64 { return int64(s.lines) })),
		})
	}
	slices.SortFunc(sigs, func(a, b signature) int { return a.status - b.status })
	return sigs
}

func (sf *SmartFilter) Name() string { return "smart-404" }

// Baselines returns the number of soft-404 signatures learned during calibration.
func (sf *SmartFilter) Baselines() int {
	n := 0
	for _, sigs := range sf.bySuffix {
		n += len(sigs)
	}
	return n
}

// ShouldFilter reports whether result matches a soft-404 signature. Results
// for an extension without signatures of its own fall back to the bare ones.
func (sf *SmartFilter) ShouldFilter(result *scanner.ProbeResult) bool {
	// An empty 200 is a catch-all, not content.
	if result.StatusCode == 200 && result.Size == 0 {
		return true
	}

	sigs, ok := sf.bySuffix[result.Candidate.Extension]
	if !ok {
		sigs = sf.bySuffix[""]
	}
	for _, sig := range sigs {
		if sig.status == result.StatusCode {
			return sig.matches(result, sf.tolerance)
		}
	}
	return false
}

// matches needs two of size, words and lines to agree for loose signatures,
// so a page that echoes the requested path still matches.
func (sig signature) matches(r *scanner.ProbeResult, tolerance int64) bool {
	if sig.exact {
		return r.BodyHash == sig.hash
	}
	agree := 0
	if distance(r.Size, sig.size) <= tolerance {
		agree++
	}
	if distance(int64(r.WordCount), int64(sig.words)) <= int64(max(5, sig.words/20)) {
		agree++
	}
	if distance(int64(r.LineCount), int64(sig.lines)) <= int64(max(2, sig.lines/10)) {
		agree++
	}
	return agree >= 2
}

func median(group []sample, field func(sample) int64) int64 {
	vals := make([]int64, len(group))
	for i, s := range group {
		vals[i] = field(s)
	}
	slices.Sort(vals)
	return vals[len(vals)/2]
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
