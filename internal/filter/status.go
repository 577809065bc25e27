package filter

import "github.com/maxvaer/pathhunter/internal/scanner"

// InterestingStatus lists non-2xx/3xx codes that usually still reveal a
// resource: auth walls, forbidden directories, method mismatches and
// server-side failures.
var InterestingStatus = []int{400, 401, 403, 405, 500, 503}

// StatusFilter decides membership by HTTP status. 2xx and 3xx responses are
// kept by default; include adds further codes and exclude removes codes,
// taking precedence over both.
type StatusFilter struct {
	include map[int]struct{}
	exclude map[int]struct{}
}

// NewStatusFilter creates a status code filter.
func NewStatusFilter(include, exclude []int) *StatusFilter {
	f := &StatusFilter{
		include: make(map[int]struct{}, len(include)),
		exclude: make(map[int]struct{}, len(exclude)),
	}
	for _, code := range include {
		f.include[code] = struct{}{}
	}
	for _, code := range exclude {
		f.exclude[code] = struct{}{}
	}
	return f
}

func (f *StatusFilter) Name() string { return "status" }

func (f *StatusFilter) ShouldFilter(result *scanner.ProbeResult) bool {
	if _, ok := f.exclude[result.StatusCode]; ok {
		return true
	}
	if result.StatusCode >= 200 && result.StatusCode < 400 {
		return false
	}
	_, ok := f.include[result.StatusCode]
	return !ok
}
