// Package download resolves model weight files from a hub registry and
// coordinates their transfer to local storage, including multi-shard
// models and cancellation.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/memoflow/distill/pkg/analysis"
)

// shardPattern matches hub shard naming, e.g. model-00001-of-00003.gguf.
var shardPattern = regexp.MustCompile(`-(\d+)-of-(\d+)\.gguf$`)

// RegistryClient talks to a HuggingFace-compatible model hub.
type RegistryClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRegistryClient builds a client against baseURL (no trailing slash).
// An empty token means anonymous access.
func NewRegistryClient(baseURL, token string) *RegistryClient {
	return &RegistryClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

// SetHTTPClient overrides the transport, for tests.
func (c *RegistryClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type sibling struct {
	Rfilename string `json:"rfilename"`
}

type repoInfo struct {
	Siblings []sibling `json:"siblings"`
}

// ResolveFiles returns the ordered weight filenames for repo matching the
// quantization tag. For sharded models the full shard list is
// reconstructed from the shard numbering, so the result is complete and
// ordered even when the hub listing is partial or shuffled.
func (c *RegistryClient) ResolveFiles(ctx context.Context, repo, quant string) ([]string, error) {
	url := fmt.Sprintf("%s/api/models/%s?expand=siblings", c.baseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeRequestEncode, "create registry request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeNetwork, "registry lookup").
			WithDetails("repo", repo)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, analysis.NewServerError(resp.StatusCode, string(body)).
			WithDetails("repo", repo)
	}

	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, analysis.WrapError(err, analysis.ErrCodeDecoding, "decode registry response").
			WithDetails("repo", repo)
	}

	var matches []string
	lowerQuant := strings.ToLower(quant)
	for _, s := range info.Siblings {
		name := s.Rfilename
		if !strings.HasSuffix(name, ".gguf") {
			continue
		}
		if lowerQuant != "" && !strings.Contains(strings.ToLower(name), lowerQuant) {
			continue
		}
		matches = append(matches, name)
	}
	if len(matches) == 0 {
		return nil, analysis.NewError(analysis.ErrCodeModelNotAvailable, "no matching weight files in repository").
			WithDetails("repo", repo).
			WithDetails("quant", quant)
	}
	sort.Strings(matches)

	first := matches[0]
	m := shardPattern.FindStringSubmatch(first)
	if m == nil {
		// Unsharded model, one file.
		return matches[:1], nil
	}

	// Rebuild the complete shard list from the first shard's numbering.
	total, err := strconv.Atoi(m[2])
	if err != nil || total <= 0 {
		return nil, analysis.NewError(analysis.ErrCodeDecoding, "unparseable shard count").
			WithDetails("filename", first)
	}
	width := len(m[1])
	prefix := strings.TrimSuffix(first, m[0])

	files := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		files = append(files, fmt.Sprintf("%s-%0*d-of-%0*d.gguf", prefix, width, i, width, total))
	}
	return files, nil
}

// FetchFile streams one weight file, reporting byte-level progress
// through progressFn as the body is consumed.
func (c *RegistryClient) FetchFile(ctx context.Context, repo, filename string, progressFn func(done, total int64)) (io.ReadCloser, int64, error) {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, repo, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, analysis.WrapError(err, analysis.ErrCodeRequestEncode, "create download request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, analysis.WrapError(err, analysis.ErrCodeNetwork, "download file").
			WithDetails("repo", repo).
			WithDetails("filename", filename)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, analysis.NewServerError(resp.StatusCode, string(body)).
			WithDetails("filename", filename)
	}

	total, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if progressFn != nil {
		return &progressReader{reader: resp.Body, total: total, progressFn: progressFn}, total, nil
	}
	return resp.Body, total, nil
}

type progressReader struct {
	reader     io.ReadCloser
	read       int64
	total      int64
	progressFn func(done, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.read += int64(n)
	if pr.progressFn != nil {
		pr.progressFn(pr.read, pr.total)
	}
	return n, err
}

func (pr *progressReader) Close() error {
	return pr.reader.Close()
}
