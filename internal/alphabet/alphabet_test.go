package alphabet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWordIdentity(t *testing.T) {
	a := New(TypeClientHello, "CH")
	b := New(TypeClientHello, "CH")
	c := New(TypeClientHello, "CH_ECDHE")

	assert.Equal(t, a, b, "words are compared by value")
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, "CCS", New(TypeChangeCipherSpec, "").Name, "empty name defaults to the type tag")
	assert.True(t, Reset().IsReset())
}

func TestAlphabet_DuplicatesAndUnion(t *testing.T) {
	ch := New(TypeClientHello, "CH")
	ccs := New(TypeChangeCipherSpec, "CCS")
	fin := New(TypeFinished, "FIN")

	a := NewAlphabet(ch, ccs, ch)
	require.Equal(t, 2, a.Size())
	assert.Equal(t, 0, a.IndexOf(ch))
	assert.Equal(t, -1, a.IndexOf(fin))

	u := Union(a, NewAlphabet(fin, ccs), nil)
	assert.Equal(t, []Word{ch, ccs, fin}, u.Words())

	_, ok := u.Reset()
	assert.False(t, ok)
	_, ok = Union(u, NewAlphabet(Reset())).Reset()
	assert.True(t, ok)
}

func TestParse(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		doc := []byte(`
words:
  - type: client_hello
    name: CH
  - type: PADDING_ORACLE
    name: PAD_INVALID_MAC
    category: invalid-mac
  - type: RESET_CONNECTION
    name: RESET
`)
		a, err := Parse(doc)
		require.NoError(t, err)
		require.Equal(t, 3, a.Size())
		assert.Equal(t, TypeClientHello, a.At(0).Type)
		assert.Equal(t, "invalid-mac", a.At(1).Category)
		assert.True(t, a.At(2).IsReset())
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Parse([]byte("words:\n  - type: NOPE\n    name: X\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown word type")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Parse([]byte("words: []\n"))
		assert.Error(t, err)
	})
}

func TestLoadFile_RoundTripThroughYAML(t *testing.T) {
	a := NewAlphabet(New(TypeClientHello, "CH"), NewProbe(TypeBleichenbacherOracle, "BB_WRONG_FIRST", "pkcs1"))
	data, err := yaml.Marshal(a)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "alphabet.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, a.Words(), loaded.Words())
}

func TestSequence(t *testing.T) {
	assert.Equal(t, "ε", Sequence(nil))
	seq := []Word{New(TypeClientHello, "CH"), New(TypeFinished, "FIN")}
	assert.Equal(t, "CH FIN", Sequence(seq))
	assert.Equal(t, "CLIENT_HELLO/CH|FINISHED/FIN", SequenceKey(seq))
}
