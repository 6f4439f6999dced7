// internal/reporting/reporter_test.go
package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNew_Stdout(t *testing.T) {
	for _, path := range []string{"", "stdout"} {
		for _, format := range []string{"sarif", "json"} {
			t.Run(format+"_"+path, func(t *testing.T) {
				r, err := New(format, path, "test", zaptest.NewLogger(t))
				require.NoError(t, err)

				var writer interface{}
				switch rep := r.(type) {
				case *SARIFReporter:
					writer = rep.writer
				case *JSONReporter:
					writer = rep.writer
				default:
					t.Fatalf("unexpected reporter type %T", r)
				}
				nwc, ok := writer.(*nopWriteCloser)
				require.True(t, ok, "stdout must be wrapped so Close leaves it open")
				assert.Equal(t, os.Stdout, nwc.Writer)
			})
		}
	}
}

func TestNew_File(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	r, err := New("json", out, "test", nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool": "stateprobe"`)
}

func TestNew_UnsupportedFormat(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.xml")
	r, err := New("xml", out, "test", zaptest.NewLogger(t))
	assert.Nil(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format: xml")

	info, statErr := os.Stat(out)
	require.NoError(t, statErr, "file is created before the format is checked")
	assert.Zero(t, info.Size())
}

func TestNew_Failure_FileCreation(t *testing.T) {
	r, err := New("sarif", t.TempDir(), "test", zaptest.NewLogger(t))
	assert.Nil(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func TestNopWriteCloser(t *testing.T) {
	buf := new(bytes.Buffer)
	nwc := &nopWriteCloser{buf}

	n, err := nwc.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, nwc.Close())

	nwc.Write([]byte(" world"))
	assert.Equal(t, "hello world", buf.String())
}

func TestGuidanceFor(t *testing.T) {
	g := guidanceFor("PADDING_ORACLE", "")
	assert.Equal(t, "Padding oracle", g.Title)

	g = guidanceFor("SOMETHING_NEW", "custom text")
	assert.Equal(t, "SOMETHING_NEW", g.Title)
	assert.Equal(t, "custom text", g.Description)

	assert.Equal(t, "Unclassified deviation", guidanceFor("", "").Title)
}
