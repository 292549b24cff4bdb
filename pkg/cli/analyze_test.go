package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeCommand(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"data":{"summary":"a week of planning"},"model":"cloud-v3","tokens":{"input":40,"output":8},"latency_ms":350}`)
	}))
	defer srv.Close()

	testEnv(t)
	t.Setenv("DISTILL_API_BASE_URL", srv.URL)

	transcript := filepath.Join(t.TempDir(), "memo.txt")
	require.NoError(t, os.WriteFile(transcript, []byte("planned the week ahead"), 0o644))

	run := func() string {
		root := NewRootCommand()
		buf := &bytes.Buffer{}
		root.SetOutputWriter(buf)

		cmd := root.Command()
		cmd.SetArgs([]string{"analyze", transcript, "--memo-id", "memo-1", "--mode", "summary", "-o", "json", "-q=false"})
		require.NoError(t, cmd.Execute())
		return buf.String()
	}

	out := run()
	assert.Contains(t, out, "a week of planning")
	assert.Contains(t, out, `"model": "cloud-v3"`)
	assert.Equal(t, int32(1), calls.Load())

	// Same memo and mode again: served from the persisted envelope, no
	// second API call.
	out = run()
	assert.Contains(t, out, "a week of planning")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnalyzeCommandRequiresMemoID(t *testing.T) {
	testEnv(t)

	root := NewRootCommand()
	root.SetOutputWriter(&bytes.Buffer{})

	cmd := root.Command()
	cmd.SetArgs([]string{"analyze", "some-file.txt"})
	err := cmd.Execute()
	require.Error(t, err)
}

func TestAnalyzeCommandUnknownMode(t *testing.T) {
	testEnv(t)

	transcript := filepath.Join(t.TempDir(), "memo.txt")
	require.NoError(t, os.WriteFile(transcript, []byte("text"), 0o644))

	root := NewRootCommand()
	root.SetOutputWriter(&bytes.Buffer{})

	cmd := root.Command()
	cmd.SetArgs([]string{"analyze", transcript, "--memo-id", "m", "--mode", "haiku"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestAnalyzeCommandEmptyTranscript(t *testing.T) {
	testEnv(t)

	transcript := filepath.Join(t.TempDir(), "memo.txt")
	require.NoError(t, os.WriteFile(transcript, []byte("   \n"), 0o644))

	root := NewRootCommand()
	root.SetOutputWriter(&bytes.Buffer{})

	cmd := root.Command()
	cmd.SetArgs([]string{"analyze", transcript, "--memo-id", "m", "--mode", "summary"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
