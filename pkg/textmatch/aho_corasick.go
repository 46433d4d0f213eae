// Package textmatch finds many literal keywords in free text in one pass.
package textmatch

import (
	"strings"
	"sync"
	"unicode"
)

// Matcher is a case-insensitive Aho-Corasick automaton. Patterns are added
// first, then Build is called once; Search is safe for concurrent use.
//
//	m := textmatch.New()
//	m.Add("give up", "depression")
//	m.Add("bullied", "bullying")
//	m.Build()
//	matches := m.Search("I was bullied and want to give up")
type Matcher struct {
	mu       sync.RWMutex
	root     *node
	patterns []Pattern
	built    bool
}

// Pattern is a keyword with associated data, typically a category.
type Pattern struct {
	Text string
	Data any
}

// Match is one occurrence of a pattern. Start is a rune offset into the
// searched text.
type Match struct {
	Pattern string
	Data    any
	Start   int
}

type node struct {
	children map[rune]*node
	fail     *node
	output   []int
}

func newNode() *node {
	return &node{children: make(map[rune]*node)}
}

// New creates an empty matcher.
func New() *Matcher {
	return &Matcher{root: newNode()}
}

// Add registers a pattern. Blank patterns are ignored. Adding after Build
// requires another Build.
func (m *Matcher) Add(pattern string, data any) {
	if strings.TrimSpace(pattern) == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, Pattern{Text: pattern, Data: data})
	m.built = false
}

// Len returns the number of registered patterns.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

// Build constructs the trie and failure links.
func (m *Matcher) Build() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.built {
		return
	}

	m.root = newNode()
	for i, p := range m.patterns {
		cur := m.root
		for _, ch := range fold(p.Text) {
			next, ok := cur.children[ch]
			if !ok {
				next = newNode()
				cur.children[ch] = next
			}
			cur = next
		}
		cur.output = append(cur.output, i)
	}

	queue := make([]*node, 0, len(m.root.children))
	for _, child := range m.root.children {
		child.fail = m.root
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for ch, child := range cur.children {
			queue = append(queue, child)
			f := cur.fail
			for f != nil && f.children[ch] == nil {
				f = f.fail
			}
			if f == nil {
				child.fail = m.root
			} else {
				child.fail = f.children[ch]
				child.output = append(child.output, child.fail.output...)
			}
		}
	}

	m.built = true
}

// Search returns every match in text, ordered by end position.
func (m *Matcher) Search(text string) []Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.built || len(m.patterns) == 0 {
		return nil
	}

	var matches []Match
	cur := m.root
	for i, ch := range fold(text) {
		for cur != m.root && cur.children[ch] == nil {
			cur = cur.fail
		}
		if next, ok := cur.children[ch]; ok {
			cur = next
		}
		for _, idx := range cur.output {
			p := m.patterns[idx]
			matches = append(matches, Match{
				Pattern: p.Text,
				Data:    p.Data,
				Start:   i - len(fold(p.Text)) + 1,
			})
		}
	}
	return matches
}

// fold lower-cases rune by rune so rune offsets line up with the input.
func fold(s string) []rune {
	out := []rune(s)
	for i, r := range out {
		out[i] = unicode.ToLower(r)
	}
	return out
}
