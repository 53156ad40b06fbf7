package download_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OceanOptics/getOC/internal/auth"
	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/poi"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func testConfig(dir string) download.Config {
	return download.Config{
		Platform:    "test",
		RunID:       "run-1",
		OutputDir:   dir,
		MaxRetries:  3,
		RetryDelay:  -1,
		MinFileSize: 512,
		Logger:      zerolog.Nop(),
	}
}

type fakeTokens struct {
	mu        sync.Mutex
	tokens    []string
	current   int
	refreshes int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[f.current], nil
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current < len(f.tokens)-1 {
		f.current++
	}
	f.refreshes++
	return f.tokens[f.current], nil
}

type memoryRecorder struct {
	mu     sync.Mutex
	states []download.State
}

func (m *memoryRecorder) Record(_ context.Context, t download.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, t.State)
	return nil
}

func TestDownload_WritesFile(t *testing.T) {
	body := payload(4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	recorder := &memoryRecorder{}
	cfg := testConfig(dir)
	cfg.Recorder = recorder
	cfg.ChunkSize = 1000
	cfg.Verbose = true

	report, err := download.New(cfg).Download(context.Background(), []poi.Image{
		{Name: "A2020229180500.L2_LAC_OC.nc", URL: server.URL + "/file"},
	})
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, int64(4096), report.Bytes)

	got, err := os.ReadFile(filepath.Join(dir, "A2020229180500.L2_LAC_OC.nc"))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, err = os.Stat(filepath.Join(dir, download.TempPrefix+"A2020229180500.L2_LAC_OC.nc"))
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed")

	assert.Equal(t, []download.State{
		download.StatePending, download.StateInProgress, download.StateComplete,
	}, recorder.states)
}

func TestDownload_SkipsExistingFile(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(payload(4096))
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "done.nc"), payload(2048), 0o644))

	report, err := download.New(testConfig(dir)).Download(context.Background(), []poi.Image{
		{Name: "done.nc", URL: server.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(0), hits.Load(), "no request for an existing file")
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, report.OK())
}

func TestDownload_ReplacesTruncatedFile(t *testing.T) {
	body := payload(4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.nc"), payload(10), 0o644))

	report, err := download.New(testConfig(dir)).Download(context.Background(), []poi.Image{
		{Name: "short.nc", URL: server.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	got, err := os.ReadFile(filepath.Join(dir, "short.nc"))
	require.NoError(t, err)
	assert.Len(t, got, 4096)
}

func TestDownload_ResumesPartialFile(t *testing.T) {
	body := payload(8192)
	var ranges []string
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		http.ServeContent(w, r, "S3A.zip", time.Unix(0, 0), bytes.NewReader(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, download.TempPrefix+"S3A.zip"), body[:3000], 0o644))

	cfg := testConfig(dir)
	cfg.Resume = true

	transfer, err := download.New(cfg).Fetch(context.Background(), poi.Image{Name: "S3A.zip", URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, []string{"bytes=3000-"}, ranges)
	assert.Equal(t, int64(8192), transfer.Bytes)
	assert.Equal(t, int64(8192), transfer.Expected)

	got, err := os.ReadFile(filepath.Join(dir, "S3A.zip"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_RestartsWhenRangeIgnored(t *testing.T) {
	body := payload(4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, download.TempPrefix+"f.nc"), payload(1000), 0o644))

	cfg := testConfig(dir)
	cfg.Resume = true

	transfer, err := download.New(cfg).Fetch(context.Background(), poi.Image{Name: "f.nc", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), transfer.Bytes)

	got, err := os.ReadFile(filepath.Join(dir, "f.nc"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_RetriesShortBody(t *testing.T) {
	body := payload(4096)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if hits.Add(1) == 1 {
			_, _ = w.Write(body[:100])
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	transfer, err := download.New(testConfig(dir)).Fetch(context.Background(), poi.Image{Name: "f.nc", URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, 2, transfer.Attempts)
	assert.Equal(t, download.StateComplete, transfer.State)

	got, err := os.ReadFile(filepath.Join(dir, "f.nc"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_RejectsTinyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
		w.(http.Flusher).Flush() // chunked, no Content-Length
	}))
	defer server.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MaxRetries = 2

	_, err := download.New(cfg).Fetch(context.Background(), poi.Image{Name: "f.nc", URL: server.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, download.ErrIncomplete)
}

func TestDownload_AcceptsSmallFileOfKnownLength(t *testing.T) {
	body := payload(100)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	tr, err := download.New(testConfig(dir)).Fetch(context.Background(), poi.Image{Name: "small.nc", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, download.StateComplete, tr.State)
	assert.Equal(t, int64(100), tr.Bytes)
	assert.Equal(t, int32(1), hits.Load(), "a complete transfer is not retried")

	got, err := os.ReadFile(filepath.Join(dir, "small.nc"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_RefreshesExpiredToken(t *testing.T) {
	body := payload(2048)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("token") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ErrorMessage":"Expired signature!"}`))
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	tokens := &fakeTokens{tokens: []string{"stale", "fresh"}}
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MaxRetries = 1
	cfg.Auth = download.QueryTokenAuth{Tokens: tokens}

	transfer, err := download.New(cfg).Fetch(context.Background(), poi.Image{
		Name: "S3B_OL_2_WFR.zip",
		URL:  server.URL + "/download/abc",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, 1, transfer.Attempts, "the refresh must not consume the retry budget")
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownload_InvalidCredentialsAbortRun(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Auth = download.BasicAuth{Username: "user", Password: "wrong"}

	report, err := download.New(cfg).Download(context.Background(), []poi.Image{
		{Name: "a.nc", URL: server.URL + "/a"},
		{Name: "b.nc", URL: server.URL + "/b"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, err, download.ErrAborted)

	assert.Equal(t, int32(1), hits.Load(), "no retry and no second file")
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.OK())
}

func TestDownload_FailureCleansUpAndContinues(t *testing.T) {
	body := payload(2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.Header().Set("Content-Length", "4096")
			_, _ = w.Write(body[:600])
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MaxRetries = 2
	cfg.Resume = true

	report, err := download.New(cfg).Download(context.Background(), []poi.Image{
		{Name: "broken.nc", URL: server.URL + "/broken"},
		{Name: "ok.nc", URL: server.URL + "/ok"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Completed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken.nc", report.Failures[0].Name)

	for _, name := range []string{"broken.nc", download.TempPrefix + "broken.nc"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(statErr), "%s must be removed", name)
	}
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer server.Close()

	_, err := download.New(testConfig(t.TempDir())).Fetch(context.Background(), poi.Image{Name: "gone.nc", URL: server.URL})
	require.Error(t, err)

	var statusErr *download.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownload_FailFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	cfg := testConfig(t.TempDir())
	cfg.FailFast = true

	report, err := download.New(cfg).Download(context.Background(), []poi.Image{
		{Name: "a.nc", URL: server.URL},
		{Name: "b.nc", URL: server.URL},
	})
	require.ErrorIs(t, err, download.ErrAborted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Requested)
}

func TestDownload_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := download.New(testConfig(t.TempDir())).Download(ctx, []poi.Image{{Name: "a.nc", URL: "http://127.0.0.1:1"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Completed+report.Failed)
}

func TestDownload_MissingURL(t *testing.T) {
	report, err := download.New(testConfig(t.TempDir())).Download(context.Background(), []poi.Image{{Name: "a.nc"}})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, download.ErrNoURL)
}

func TestBearerAuth_FollowsRedirect(t *testing.T) {
	body := payload(1024)
	var authorization atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/Products(1)/$value", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/storage/1", http.StatusFound)
	})
	mux.HandleFunc("/storage/1", func(w http.ResponseWriter, r *http.Request) {
		authorization.Store(r.Header.Get("Authorization"))
		_, _ = w.Write(body)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(t.TempDir())
	cfg.Auth = download.BearerAuth{Tokens: &fakeTokens{tokens: []string{"abc"}}}

	_, err := download.New(cfg).Fetch(context.Background(), poi.Image{Name: "p.zip", URL: server.URL + "/Products(1)/$value"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", authorization.Load())
}

func TestKeepAuthorization(t *testing.T) {
	tests := []struct {
		name          string
		from, to      string
		authorization string
		want          string
	}{
		{"bearer to object storage", "https://catalogue.example/Products(1)/$value", "https://storage.example/1", "Bearer abc", "Bearer abc"},
		{"basic to same host", "https://oceandata.example/getfile/a.nc", "https://oceandata.example/ob/a.nc", "Basic dTpw", "Basic dTpw"},
		{"basic to earthdata login", "https://oceandata.example/getfile/a.nc", "https://" + download.EarthdataLoginHost + "/oauth/authorize", "Basic dTpw", "Basic dTpw"},
		{"basic to other host", "https://oceandata.example/getfile/a.nc", "https://cdn.example/a.nc", "Basic dTpw", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := httptest.NewRequest(http.MethodGet, tt.from, http.NoBody)
			first.Header.Set("Authorization", tt.authorization)
			next := httptest.NewRequest(http.MethodGet, tt.to, http.NoBody)

			require.NoError(t, download.KeepAuthorization(next, []*http.Request{first}))
			assert.Equal(t, tt.want, next.Header.Get("Authorization"))
		})
	}
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, download.Progress(4, 100))
	assert.Equal(t, 90, download.Progress(94, 100))
	assert.Equal(t, 90, download.Progress(949, 1000))
	assert.Equal(t, 100, download.Progress(95, 100))
	assert.Equal(t, 100, download.Progress(100, 100))
}

func TestQueryTokenAuth_ReplacesToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://zipper.example/download/1?token=old&x=1", http.NoBody)

	a := download.QueryTokenAuth{Tokens: &fakeTokens{tokens: []string{"new"}}}
	require.NoError(t, a.Authorize(context.Background(), req))

	assert.Equal(t, "new", req.URL.Query().Get("token"))
	assert.Equal(t, "1", req.URL.Query().Get("x"))
}

func TestBasicAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://oceandata.example/getfile/a.nc", http.NoBody)
	require.NoError(t, download.BasicAuth{Username: "u", Password: "p"}.Authorize(context.Background(), req))

	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)

	refreshed, err := download.BasicAuth{}.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, download.StatePending.Terminal())
	assert.False(t, download.StateInProgress.Terminal())
	assert.True(t, download.StateComplete.Terminal())
	assert.True(t, download.StateFailed.Terminal())
}
