package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/catalog"
)

// hubServer serves a siblings listing plus weight files of the given
// sizes, keyed by filename.
func hubServer(t *testing.T, files map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/models/") {
			var parts []string
			for name := range files {
				parts = append(parts, fmt.Sprintf(`{"rfilename":%q}`, name))
			}
			fmt.Fprintf(w, `{"siblings":[%s]}`, strings.Join(parts, ","))
			return
		}
		name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		size, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(size))
		w.Write(make([]byte, size))
	}))
}

func newTestCoordinator(t *testing.T, srvURL string) *Coordinator {
	t.Helper()
	c := NewCoordinator(NewRegistryClient(srvURL, ""), t.TempDir(), nil)
	c.diskFree = func(string) (uint64, error) { return 1 << 40, nil }
	return c
}

func TestDownloadSingleFile(t *testing.T) {
	srv := hubServer(t, map[string]int{"tiny-q4_k_m.gguf": 11 * 1024 * 1024})
	defer srv.Close()

	c := newTestCoordinator(t, srv.URL)
	m := catalog.LocalModel{ID: "tiny", Repo: "org/tiny", Quant: "Q4_K_M", ApproxSizeMB: 11}

	var progressed bool
	err := c.Download(context.Background(), m, func(p Progress) {
		progressed = true
		assert.GreaterOrEqual(t, p.Fraction, 0.0)
		assert.LessOrEqual(t, p.Fraction, 1.0)
	})
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, StateDownloaded, c.State(m))
	assert.True(t, m.Downloaded(c.root))
}

func TestDownloadShardsStayedSeparate(t *testing.T) {
	srv := hubServer(t, map[string]int{
		"big-q4_k_m-00001-of-00002.gguf": 11 * 1024 * 1024,
		"big-q4_k_m-00002-of-00002.gguf": 11 * 1024 * 1024,
	})
	defer srv.Close()

	c := newTestCoordinator(t, srv.URL)
	m := catalog.LocalModel{ID: "big", Repo: "org/big", Quant: "Q4_K_M", ApproxSizeMB: 22}

	require.NoError(t, c.Download(context.Background(), m, nil))

	entries, err := os.ReadDir(m.Dir(c.root))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "big-q4_k_m-00001-of-00002.gguf", entries[0].Name())
	assert.Equal(t, "big-q4_k_m-00002-of-00002.gguf", entries[1].Name())
}

func TestDownloadTooSmallIsDiscarded(t *testing.T) {
	// A 2 KB "weights" file is an error page, not a model.
	srv := hubServer(t, map[string]int{"bad-q4_k_m.gguf": 2048})
	defer srv.Close()

	c := newTestCoordinator(t, srv.URL)
	m := catalog.LocalModel{ID: "bad", Repo: "org/bad", Quant: "Q4_K_M", ApproxSizeMB: 1}

	err := c.Download(context.Background(), m, nil)
	require.Error(t, err)
	assert.True(t, analysis.IsModelUnavailable(err))
	assert.Equal(t, StateFailed, c.State(m))

	// No partial files remain.
	_, statErr := os.Stat(m.Dir(c.root))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadTruncatedShardIsDiscarded(t *testing.T) {
	// One truncated shard fails the whole download even when its
	// siblings are healthy.
	srv := hubServer(t, map[string]int{
		"big-q4_k_m-00001-of-00003.gguf": 50 * 1024 * 1024,
		"big-q4_k_m-00002-of-00003.gguf": 2 * 1024 * 1024,
		"big-q4_k_m-00003-of-00003.gguf": 50 * 1024 * 1024,
	})
	defer srv.Close()

	c := newTestCoordinator(t, srv.URL)
	m := catalog.LocalModel{ID: "big", Repo: "org/big", Quant: "Q4_K_M", ApproxSizeMB: 102}

	err := c.Download(context.Background(), m, nil)
	require.Error(t, err)
	assert.True(t, analysis.IsModelUnavailable(err))
	assert.Equal(t, StateFailed, c.State(m))

	_, statErr := os.Stat(m.Dir(c.root))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadInsufficientDiskSpace(t *testing.T) {
	srv := hubServer(t, map[string]int{"tiny-q4_k_m.gguf": 11 * 1024 * 1024})
	defer srv.Close()

	c := newTestCoordinator(t, srv.URL)
	c.diskFree = func(string) (uint64, error) { return 1024, nil }
	m := catalog.LocalModel{ID: "tiny", Repo: "org/tiny", Quant: "Q4_K_M", ApproxSizeMB: 11}

	err := c.Download(context.Background(), m, nil)
	require.Error(t, err)
	ae, ok := analysis.AsError(err)
	require.True(t, ok)
	assert.Equal(t, analysis.ErrCodeModelNotAvailable, ae.Code)
}

func TestDownloadAlreadyOnDiskIsNoop(t *testing.T) {
	srv := hubServer(t, map[string]int{"tiny-q4_k_m.gguf": 11 * 1024 * 1024})
	defer srv.Close()

	c := newTestCoordinator(t, srv.URL)
	m := catalog.LocalModel{ID: "tiny", Repo: "org/tiny", Quant: "Q4_K_M", ApproxSizeMB: 11}
	require.NoError(t, c.Download(context.Background(), m, nil))

	srv.Close() // second call must not hit the network
	require.NoError(t, c.Download(context.Background(), m, nil))
	assert.Equal(t, StateDownloaded, c.State(m))
}

func TestCancelResetsState(t *testing.T) {
	blocker := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/models/") {
			fmt.Fprint(w, `{"siblings":[{"rfilename":"slow-q4_k_m.gguf"}]}`)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(64*1024*1024))
		w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blocker
	}))
	defer srv.Close()
	defer close(blocker)

	c := newTestCoordinator(t, srv.URL)
	m := catalog.LocalModel{ID: "slow", Repo: "org/slow", Quant: "Q4_K_M", ApproxSizeMB: 64}

	done := make(chan error, 1)
	go func() {
		done <- c.Download(context.Background(), m, func(p Progress) {
			c.Cancel(m.ID)
		})
	}()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateNotDownloaded, c.State(m))
	assert.Zero(t, c.Fraction(m.ID))

	_, statErr := os.Stat(m.Dir(c.root))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStateDerivedFromDisk(t *testing.T) {
	srv := hubServer(t, map[string]int{"tiny-q4_k_m.gguf": 11 * 1024 * 1024})
	defer srv.Close()

	c := newTestCoordinator(t, srv.URL)
	m := catalog.LocalModel{ID: "tiny", Repo: "org/tiny", Quant: "Q4_K_M", ApproxSizeMB: 11}
	require.NoError(t, c.Download(context.Background(), m, nil))
	require.Equal(t, StateDownloaded, c.State(m))

	// Weights deleted behind the coordinator's back.
	require.NoError(t, os.RemoveAll(m.Dir(c.root)))
	assert.Equal(t, StateNotDownloaded, c.State(m))
}
