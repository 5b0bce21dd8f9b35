package download_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skade/criticalup/internal/download"
	"github.com/skade/criticalup/internal/manifest"
	"github.com/skade/criticalup/internal/testutil"
)

func fastClient(baseURL string) *download.Client {
	return download.NewClient(baseURL,
		download.WithRetries(2),
		download.WithBackoff(time.Millisecond, 5*time.Millisecond),
		download.WithAttemptTimeout(5*time.Second),
	)
}

func TestFetchManifest(t *testing.T) {
	fixture := testutil.NewTrustFixture(t, 1, 1, 1, 1)
	doc := fixture.Document(t, manifest.Release{Product: "widget", Version: "1.0.0"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/releases/widget/1.0.0" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(doc)
	}))
	defer server.Close()

	got, err := fastClient(server.URL).FetchManifest(context.Background(), "widget", "1.0.0")
	if err != nil {
		t.Fatalf("fetch manifest: %v", err)
	}
	if got.Version != manifest.DocumentVersion {
		t.Errorf("document version = %d, want %d", got.Version, manifest.DocumentVersion)
	}
	if got.Release.Signed != doc.Release.Signed {
		t.Error("release payload did not round-trip")
	}
}

func TestFetchManifestNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := fastClient(server.URL).FetchManifest(context.Background(), "widget", "9.9.9")
	if !errors.Is(err, download.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var reqErr *download.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if reqErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", reqErr.Status)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")
	if err := fastClient(server.URL).DownloadFile(context.Background(), server.URL, dest); err != nil {
		t.Fatalf("download after retries: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("downloaded %q, want %q", data, "payload")
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestRetriesAreBounded(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")
	err := fastClient(server.URL).DownloadFile(context.Background(), server.URL, dest)
	if err == nil {
		t.Fatal("expected failure after retry ceiling")
	}
	if !errors.Is(err, download.ErrServerFailure) {
		t.Errorf("error = %v, want ErrServerFailure", err)
	}
	var reqErr *download.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusInternalServerError {
		t.Errorf("error = %v, want RequestError with status 500", err)
	}
	// 1 initial attempt + 2 retries.
	if got := requests.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("failed download left a file at the destination")
	}
}

func TestRateLimitSurvivesRetryCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")
	err := fastClient(server.URL).DownloadFile(context.Background(), server.URL, dest)
	if !errors.Is(err, download.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
}

func TestDownloadFileLeavesNoTempOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare more bytes than are sent so the copy fails mid-stream.
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("short"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	if err := fastClient(server.URL).DownloadFile(context.Background(), server.URL, dest); err == nil {
		t.Fatal("expected truncated download to fail")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("download left files behind: %v", entries)
	}
}

func TestDownloadHonorsContext(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dest := filepath.Join(t.TempDir(), "artifact.bin")
	err := fastClient(server.URL).DownloadFile(ctx, server.URL, dest)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
