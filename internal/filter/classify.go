package filter

import (
	"github.com/maxvaer/pathhunter/internal/config"
	"github.com/maxvaer/pathhunter/internal/scanner"
)

// Classifier decides which probe results are findings. It holds no mutable
// state, so Classify is safe for concurrent use and gives the same answer
// for the same result every time.
type Classifier struct {
	chain *Chain
}

// NewClassifier builds the status, size and (optional) soft-404 filters
// described by opts. smart may be nil.
func NewClassifier(opts *config.Options, smart *SmartFilter) *Classifier {
	include := opts.IncludeStatus
	if opts.Interesting {
		include = append(append([]int(nil), include...), InterestingStatus...)
	}
	chain := NewChain()
	chain.Add(NewStatusFilter(include, opts.ExcludeStatus))
	if len(opts.ExcludeSize) > 0 {
		chain.Add(NewSizeFilter(opts.ExcludeSize))
	}
	if smart != nil {
		chain.Add(smart)
	}
	return &Classifier{chain: chain}
}

// Classify reports whether r is a finding. When it is not, reason names the
// filter that rejected it, or "error" for transport failures.
func (c *Classifier) Classify(r *scanner.ProbeResult) (found bool, reason string) {
	if r.Err != nil {
		return false, "error"
	}
	if filtered, name := c.chain.Apply(r); filtered {
		return false, name
	}
	return true, ""
}
