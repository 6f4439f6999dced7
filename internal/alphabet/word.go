// internal/alphabet/word.go
package alphabet

import (
	"fmt"
	"strings"
)

// WordType is the discrete tag used for predicate logic over input symbols.
type WordType string

// Known word types. The set mirrors the message classes a TLS learner sends plus the
// synthetic control symbols (connection reset) and the oracle probe families.
const (
	TypeAnyClientHello       WordType = "ANY_CLIENT_HELLO"
	TypeClientHello          WordType = "CLIENT_HELLO"
	TypeClientKeyExchange    WordType = "CLIENT_KEY_EXCHANGE"
	TypeCertificate          WordType = "CERTIFICATE"
	TypeCertificateVerify    WordType = "CERTIFICATE_VERIFY"
	TypeChangeCipherSpec     WordType = "CCS"
	TypeFinished             WordType = "FINISHED"
	TypeApplicationData      WordType = "APPLICATION_DATA"
	TypeHeartbeat            WordType = "HEARTBEAT"
	TypeAlert                WordType = "ALERT"
	TypeResetConnection      WordType = "RESET_CONNECTION"
	TypePaddingOracle        WordType = "PADDING_ORACLE"
	TypeBleichenbacherOracle WordType = "BLEICHENBACHER_ORACLE"
	TypeGeneric              WordType = "GENERIC"
)

var knownTypes = map[WordType]struct{}{
	TypeAnyClientHello:       {},
	TypeClientHello:          {},
	TypeClientKeyExchange:    {},
	TypeCertificate:          {},
	TypeCertificateVerify:    {},
	TypeChangeCipherSpec:     {},
	TypeFinished:             {},
	TypeApplicationData:      {},
	TypeHeartbeat:            {},
	TypeAlert:                {},
	TypeResetConnection:      {},
	TypePaddingOracle:        {},
	TypeBleichenbacherOracle: {},
	TypeGeneric:              {},
}

// ParseWordType validates a textual word type, case-insensitively.
func ParseWordType(s string) (WordType, error) {
	t := WordType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownTypes[t]; !ok {
		return "", fmt.Errorf("unknown word type %q", s)
	}
	return t, nil
}

// IsClientHello reports whether the type is any flavour of ClientHello.
func (t WordType) IsClientHello() bool {
	return t == TypeAnyClientHello || t == TypeClientHello
}

// IsProbe reports whether the type belongs to an oracle probe family.
func (t WordType) IsProbe() bool {
	return t == TypePaddingOracle || t == TypeBleichenbacherOracle
}

// Word is a single, immutable input symbol. Identity for caching is by value:
// two words with the same type and name are the same symbol.
type Word struct {
	Type WordType `yaml:"type" json:"type"`
	Name string   `yaml:"name" json:"name"`
	// Category groups probe symbols that must behave identically on a
	// non-vulnerable implementation (e.g. all "invalid MAC" padding vectors).
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// New creates a word. An empty name defaults to the type tag.
func New(t WordType, name string) Word {
	if name == "" {
		name = string(t)
	}
	return Word{Type: t, Name: name}
}

// NewProbe creates a probe word belonging to the given category.
func NewProbe(t WordType, name, category string) Word {
	w := New(t, name)
	w.Category = category
	return w
}

// Reset is the canonical connection-reset symbol.
func Reset() Word {
	return New(TypeResetConnection, "RESET")
}

// Key returns the stable identity used for trie edges and map keys.
func (w Word) Key() string {
	return string(w.Type) + "/" + w.Name
}

// IsReset reports whether the word resets the connection.
func (w Word) IsReset() bool {
	return w.Type == TypeResetConnection
}

// String implements fmt.Stringer.
func (w Word) String() string {
	return w.Name
}

// Sequence renders a word sequence for logs and issue reports.
func Sequence(words []Word) string {
	if len(words) == 0 {
		return "ε"
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Name
	}
	return strings.Join(parts, " ")
}

// SequenceKey is the identity of a whole input sequence.
func SequenceKey(words []Word) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(w.Key())
	}
	return b.String()
}

// Clone returns an independent copy of a word sequence.
func Clone(words []Word) []Word {
	out := make([]Word, len(words))
	copy(out, words)
	return out
}
