// internal/cache/filter.go
package cache

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// Filter decides which observations are learner artifacts rather than SUL behavior and
// replaces them with the illegal-transition sentinel. The same Filter is applied to single
// live observations and to majority-vote results, so both paths store identical data.
//
// Filtering is prefix-stable: the classification of step i depends only on steps 0..i.
// Applying it twice yields the same result.
type Filter struct {
	forbidden map[string]map[string]struct{}
}

// NewFilter parses "PREV>NEXT" word-name pairs. Once NEXT directly follows PREV in a
// query, that step and everything after it is treated as an illegal learner transition.
func NewFilter(forbiddenAfter []string) (*Filter, error) {
	f := &Filter{forbidden: map[string]map[string]struct{}{}}
	for _, pair := range forbiddenAfter {
		prev, next, ok := strings.Cut(pair, ">")
		prev, next = strings.TrimSpace(prev), strings.TrimSpace(next)
		if !ok || prev == "" || next == "" {
			return nil, fmt.Errorf("invalid forbidden_after entry %q, expected PREV>NEXT", pair)
		}
		if f.forbidden[prev] == nil {
			f.forbidden[prev] = map[string]struct{}{}
		}
		f.forbidden[prev][next] = struct{}{}
	}
	return f, nil
}

// Next classifies the raw observation for input[len(prior)] given the already filtered
// prior outputs.
func (f *Filter) Next(input []alphabet.Word, prior []response.SulResponse, raw response.SulResponse) response.SulResponse {
	i := len(prior)
	if i > 0 {
		last := prior[i-1]
		if last.IllegalTransition {
			return response.IllegalLearnerTransition()
		}
		// A closed connection cannot answer anymore; anything else is a learner artifact.
		if last.Fingerprint.SocketState.IsClosed() && !raw.Fingerprint.SocketState.IsClosed() {
			return response.IllegalLearnerTransition()
		}
		if f != nil {
			if next, ok := f.forbidden[input[i-1].Name]; ok {
				if _, hit := next[input[i].Name]; hit {
					return response.IllegalLearnerTransition()
				}
			}
		}
	}
	return raw
}

// Apply filters a complete query result.
func (f *Filter) Apply(input []alphabet.Word, output []response.SulResponse) []response.SulResponse {
	out := make([]response.SulResponse, 0, len(output))
	for _, r := range output {
		out = append(out, f.Next(input, out, r))
	}
	return out
}
