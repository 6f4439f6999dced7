// internal/alphabet/alphabet.go
package alphabet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Alphabet is an ordered, duplicate-free set of input words.
type Alphabet struct {
	words []Word
	index map[string]int
}

// NewAlphabet builds an alphabet, silently dropping duplicates while keeping the
// first occurrence's position.
func NewAlphabet(words ...Word) *Alphabet {
	a := &Alphabet{index: make(map[string]int, len(words))}
	for _, w := range words {
		a.add(w)
	}
	return a
}

func (a *Alphabet) add(w Word) {
	if _, ok := a.index[w.Key()]; ok {
		return
	}
	a.index[w.Key()] = len(a.words)
	a.words = append(a.words, w)
}

// Size returns the number of words.
func (a *Alphabet) Size() int { return len(a.words) }

// Words returns a copy of the words in order.
func (a *Alphabet) Words() []Word { return Clone(a.words) }

// At returns the word at position i.
func (a *Alphabet) At(i int) Word { return a.words[i] }

// IndexOf returns the position of w, or -1 when w is not part of the alphabet.
func (a *Alphabet) IndexOf(w Word) int {
	if i, ok := a.index[w.Key()]; ok {
		return i
	}
	return -1
}

// Contains reports membership.
func (a *Alphabet) Contains(w Word) bool { return a.IndexOf(w) >= 0 }

// Reset returns the alphabet's connection-reset word, if any.
func (a *Alphabet) Reset() (Word, bool) {
	for _, w := range a.words {
		if w.IsReset() {
			return w, true
		}
	}
	return Word{}, false
}

// Union merges alphabets in order; later alphabets only contribute unseen words.
func Union(alphabets ...*Alphabet) *Alphabet {
	out := NewAlphabet()
	for _, a := range alphabets {
		if a == nil {
			continue
		}
		for _, w := range a.words {
			out.add(w)
		}
	}
	return out
}

// -- YAML alphabet files --

type fileFormat struct {
	Words []wordEntry `yaml:"words"`
}

type wordEntry struct {
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	Category string `yaml:"category,omitempty"`
}

// Parse decodes a YAML alphabet document.
func Parse(data []byte) (*Alphabet, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode alphabet: %w", err)
	}
	if len(doc.Words) == 0 {
		return nil, fmt.Errorf("alphabet contains no words")
	}
	words := make([]Word, 0, len(doc.Words))
	for i, e := range doc.Words {
		t, err := ParseWordType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("word %d: %w", i, err)
		}
		w := New(t, e.Name)
		w.Category = e.Category
		words = append(words, w)
	}
	return NewAlphabet(words...), nil
}

// LoadFile reads an alphabet from a YAML file.
func LoadFile(path string) (*Alphabet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alphabet file %s: %w", path, err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("alphabet file %s: %w", path, err)
	}
	return a, nil
}

// MarshalYAML implements yaml.Marshaler.
func (a *Alphabet) MarshalYAML() (interface{}, error) {
	doc := fileFormat{Words: make([]wordEntry, len(a.words))}
	for i, w := range a.words {
		doc.Words[i] = wordEntry{Type: string(w.Type), Name: w.Name, Category: w.Category}
	}
	return doc, nil
}
