// internal/mealy/file.go
package mealy

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/stateprobe/internal/alphabet"
	"github.com/xkilldash9x/stateprobe/internal/response"
)

// The model file format is a plain YAML rendering of the machine, used to replay recorded
// targets and for folder-wide comparisons. Words are referenced by name, so names must be
// unique within a model's alphabet.

type modelFile struct {
	Alphabet *alphabet.Alphabet `yaml:"alphabet"`
	Initial  string             `yaml:"initial"`
	States   []stateEntry       `yaml:"states"`
}

type stateEntry struct {
	Name        string            `yaml:"name"`
	Transitions []transitionEntry `yaml:"transitions"`
}

type transitionEntry struct {
	Input   string               `yaml:"input"`
	Target  string               `yaml:"target"`
	Output  response.Fingerprint `yaml:"output"`
	Illegal bool                 `yaml:"illegal,omitempty"`
}

type rawModelFile struct {
	Alphabet yaml.Node    `yaml:"alphabet"`
	Initial  string       `yaml:"initial"`
	States   []stateEntry `yaml:"states"`
}

// Encode writes the machine as YAML.
func Encode(w io.Writer, m *Machine) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to encode: %w", err)
	}
	doc := modelFile{Alphabet: m.alphabet, Initial: m.Label(m.initial)}
	for _, s := range m.States() {
		entry := stateEntry{Name: m.Label(s)}
		for _, word := range m.alphabet.Words() {
			t, _ := m.Transition(s, word)
			entry.Transitions = append(entry.Transitions, transitionEntry{
				Input:   word.Name,
				Target:  m.Label(t.Target),
				Output:  t.Output.Fingerprint,
				Illegal: t.Output.IllegalTransition,
			})
		}
		doc.States = append(doc.States, entry)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return enc.Close()
}

// Decode reads a YAML model.
func Decode(r io.Reader) (*Machine, error) {
	var raw rawModelFile
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	alphaBytes, err := yaml.Marshal(&raw.Alphabet)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode alphabet section: %w", err)
	}
	alph, err := alphabet.Parse(alphaBytes)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]alphabet.Word, alph.Size())
	for _, w := range alph.Words() {
		if _, dup := byName[w.Name]; dup {
			return nil, fmt.Errorf("duplicate word name %q in model alphabet", w.Name)
		}
		byName[w.Name] = w
	}

	m := New(alph)
	ids := make(map[string]StateID, len(raw.States))
	for _, s := range raw.States {
		if _, dup := ids[s.Name]; dup {
			return nil, fmt.Errorf("duplicate state %q", s.Name)
		}
		ids[s.Name] = m.AddState(s.Name)
	}
	init, ok := ids[raw.Initial]
	if !ok {
		return nil, fmt.Errorf("initial state %q is not declared", raw.Initial)
	}
	m.SetInitial(init)

	for _, s := range raw.States {
		from := ids[s.Name]
		for _, t := range s.Transitions {
			word, ok := byName[t.Input]
			if !ok {
				return nil, fmt.Errorf("state %s: unknown input %q", s.Name, t.Input)
			}
			to, ok := ids[t.Target]
			if !ok {
				return nil, fmt.Errorf("state %s: unknown target %q", s.Name, t.Target)
			}
			out := response.SulResponse{Fingerprint: t.Output, IllegalTransition: t.Illegal}
			if err := m.SetTransition(from, word, to, out); err != nil {
				return nil, fmt.Errorf("state %s: %w", s.Name, err)
			}
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFile reads a model from disk.
func LoadFile(path string) (*Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model %s: %w", path, err)
	}
	defer f.Close()
	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// SaveFile writes a model to disk.
func SaveFile(path string, m *Machine) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model %s: %w", path, err)
	}
	if err := Encode(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
