// Package flow implements the default TransitionAnalyzer: correct behavior is declared as
// a set of happy flows in a YAML document.
package flow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/stateprobe/internal/response"
)

// DefaultInitialName names the state before any input was sent.
const DefaultInitialName = "INITIAL"

// Step is one expected input of a flow.
type Step struct {
	Word string `yaml:"word"`

	// Expect lists the message classes a correct peer answers with, in order. An empty list
	// accepts any answer that is neither the I/O sentinel nor an illegal transition.
	Expect []response.MessageType `yaml:"expect,omitempty"`

	Optional bool `yaml:"optional,omitempty"`
	// Repeat lets the step occur any number of times in a row.
	Repeat   bool `yaml:"repeat,omitempty"`

	// State names the state reached after the step. Unnamed steps take no part in
	// state name checks.
	State      string   `yaml:"state,omitempty"`
	Properties []string `yaml:"properties,omitempty"`
}

// Flow is a named happy flow.
type Flow struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Definition is the parsed flows document.
type Definition struct {
	Initial string `yaml:"initial,omitempty"`
	Flows   []Flow `yaml:"flows"`
	// Aliases groups state names that may legitimately label the same learned state.
	Aliases [][]string `yaml:"aliases,omitempty"`
}

// Parse decodes and validates a flows document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode flows: %w", err)
	}
	if err := def.normalize(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads a flows document from disk.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows file %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("flows file %s: %w", path, err)
	}
	return def, nil
}

// FromSequences builds a definition with one flow per space separated word sequence.
// It backs the learner's happy_flows setting when no flows file is configured.
func FromSequences(seqs []string) (*Definition, error) {
	def := &Definition{}
	for i, seq := range seqs {
		f := Flow{Name: fmt.Sprintf("flow%d", i+1)}
		for _, name := range strings.Fields(seq) {
			f.Steps = append(f.Steps, Step{Word: name})
		}
		def.Flows = append(def.Flows, f)
	}
	if err := def.normalize(); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *Definition) normalize() error {
	if d.Initial == "" {
		d.Initial = DefaultInitialName
	}
	if len(d.Flows) == 0 {
		return fmt.Errorf("no flows declared")
	}
	seen := map[string]struct{}{}
	for i := range d.Flows {
		f := &d.Flows[i]
		if f.Name == "" {
			f.Name = fmt.Sprintf("flow%d", i+1)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate flow name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if len(f.Steps) == 0 {
			return fmt.Errorf("flow %q has no steps", f.Name)
		}
		for j := range f.Steps {
			st := &f.Steps[j]
			st.Word = strings.TrimSpace(st.Word)
			if st.Word == "" {
				return fmt.Errorf("flow %q step %d: word is required", f.Name, j+1)
			}
			for k, t := range st.Expect {
				st.Expect[k] = response.MessageType(strings.ToUpper(string(t)))
			}
		}
	}
	return nil
}
