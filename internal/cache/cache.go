// internal/cache/cache.go
package cache

import (
	"fmt"
	"sync"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

const root = 0

// node is one trie position. Index 0 is the root (empty input) and carries no response.
type node struct {
	resp     response.SulResponse
	children map[string]int
}

// Cache is the prefix-keyed response store shared by every query of an extraction session.
// Reads take the read lock; insertions and overwrites take the write lock.
type Cache struct {
	mu         sync.RWMutex
	nodes      []node
	size       int
	generation uint64
	filter     *Filter
}

// New creates an empty cache. A nil filter only applies the built-in closed-socket rule.
func New(filter *Filter) *Cache {
	return &Cache{
		nodes:  []node{{children: map[string]int{}}},
		filter: filter,
	}
}

// Filter returns the filter applied to every stored observation.
func (c *Cache) Filter() *Filter { return c.filter }

// Size returns the number of cached transitions.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Generation is bumped on every overwrite. Cursors holding node indices from an older
// generation must re-resolve their path.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Lookup returns the cached outputs for the full input, if every step is cached.
func (c *Cache) Lookup(input []alphabet.Word) ([]response.SulResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]response.SulResponse, 0, len(input))
	n := root
	for _, w := range input {
		child, ok := c.nodes[n].children[w.Key()]
		if !ok {
			return out, false
		}
		n = child
		out = append(out, c.nodes[n].resp)
	}
	return out, true
}

// child returns the cached successor of n for w. Callers hold at least the read lock.
func (c *Cache) child(n int, w alphabet.Word) (int, bool) {
	idx, ok := c.nodes[n].children[w.Key()]
	return idx, ok
}

func (c *Cache) addChild(n int, w alphabet.Word, r response.SulResponse) int {
	idx := len(c.nodes)
	c.nodes = append(c.nodes, node{resp: r, children: map[string]int{}})
	c.nodes[n].children[w.Key()] = idx
	c.size++
	return idx
}

// extend stores the observation r for (n, w). If another writer stored a different
// response first, the stored one wins and a conflict is reported.
func (c *Cache) extend(n int, w alphabet.Word, r response.SulResponse) (int, *response.SulResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.child(n, w); ok {
		if existing := c.nodes[idx].resp; !existing.Equal(r) {
			return idx, &existing
		}
		return idx, nil
	}
	return c.addChild(n, w, r), nil
}

// resolve walks input from the root. It returns the reached node and how many steps matched.
func (c *Cache) resolve(input []alphabet.Word) (int, int) {
	n := root
	for i, w := range input {
		child, ok := c.child(n, w)
		if !ok {
			return n, i
		}
		n = child
	}
	return n, len(input)
}

// Insert stores a complete, filtered query result. Any disagreement with already cached
// data is reported as a conflict and leaves the cache unchanged from that step on.
func (c *Cache) Insert(input []alphabet.Word, output []response.SulResponse) error {
	if len(input) != len(output) {
		return fmt.Errorf("input has %d symbols but output has %d responses", len(input), len(output))
	}
	filtered := c.filter.Apply(input, output)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := root
	for i, w := range input {
		if idx, ok := c.child(n, w); ok {
			if !c.nodes[idx].resp.Equal(filtered[i]) {
				return &ConflictError{
					Input:    alphabet.Clone(input[:i+1]),
					Expected: c.nodes[idx].resp,
					Observed: filtered[i],
				}
			}
			n = idx
			continue
		}
		n = c.addChild(n, w, filtered[i])
	}
	return nil
}

// Overwrite force-replaces the responses along input with output, after filtering. Every
// subtree that hangs below a node whose response changed was observed under refuted
// behavior and is dropped; branches below unchanged nodes survive.
func (c *Cache) Overwrite(input []alphabet.Word, output []response.SulResponse) error {
	if len(input) != len(output) {
		return fmt.Errorf("input has %d symbols but output has %d responses", len(input), len(output))
	}
	filtered := c.filter.Apply(input, output)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := root
	changed := false
	for i, w := range input {
		idx, ok := c.child(n, w)
		switch {
		case !ok:
			idx = c.addChild(n, w, filtered[i])
		case !c.nodes[idx].resp.Equal(filtered[i]):
			c.nodes[idx].resp = filtered[i]
			changed = true
		}
		if changed {
			var keep string
			if i+1 < len(input) {
				keep = input[i+1].Key()
			}
			c.pruneExcept(idx, keep)
		}
		n = idx
	}
	c.generation++
	return nil
}

// pruneExcept detaches every child of n except the one reached via keep.
func (c *Cache) pruneExcept(n int, keep string) {
	for key, child := range c.nodes[n].children {
		if key == keep {
			continue
		}
		delete(c.nodes[n].children, key)
		c.size -= c.countSubtree(child)
	}
}

func (c *Cache) countSubtree(n int) int {
	count := 0
	stack := []int{n}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		for _, child := range c.nodes[top].children {
			stack = append(stack, child)
		}
	}
	return count
}
