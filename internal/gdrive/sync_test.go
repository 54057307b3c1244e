package gdrive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type driveCall struct {
	method, path string
}

func newTestSyncer(t *testing.T) (*Syncer, func() []driveCall) {
	t.Helper()

	var mu sync.Mutex
	var calls []driveCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, driveCall{r.Method, r.URL.Path})
		mu.Unlock()
		if r.Method != http.MethodPost && r.Method != http.MethodPatch {
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"doc-1"}`))
	}))
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("drive service: %v", err)
	}
	return NewSyncerWithService(svc, "folder-1", nil), func() []driveCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]driveCall(nil), calls...)
	}
}

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "summary.md")
	if err := os.WriteFile(path, []byte("# Patient 1607\n"), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return path
}

func TestSyncCreatesThenUpdates(t *testing.T) {
	syncer, calls := newTestSyncer(t)
	path := writeExport(t)

	if err := syncer.Sync(context.Background(), path, "intake-1607-2026-03-01-093000"); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if err := syncer.Sync(context.Background(), path, "intake-1607-2026-03-01-093000"); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	got := calls()
	if len(got) != 2 {
		t.Fatalf("expected two drive calls, got %v", got)
	}
	if got[0].method != http.MethodPost {
		t.Fatalf("expected create first, got %v", got[0])
	}
	if got[1].method != http.MethodPatch || !strings.HasSuffix(got[1].path, "/files/doc-1") {
		t.Fatalf("expected update of doc-1, got %v", got[1])
	}
}

func TestSyncSeparateNamesCreateSeparateDocuments(t *testing.T) {
	syncer, calls := newTestSyncer(t)
	path := writeExport(t)

	for _, name := range []string{"intake-1607-a", "intake-1607-b"} {
		if err := syncer.Sync(context.Background(), path, name); err != nil {
			t.Fatalf("sync %s: %v", name, err)
		}
	}
	for _, c := range calls() {
		if c.method != http.MethodPost {
			t.Fatalf("expected only creates, got %v", calls())
		}
	}
}

func TestSyncMissingFile(t *testing.T) {
	syncer, calls := newTestSyncer(t)

	if err := syncer.Sync(context.Background(), filepath.Join(t.TempDir(), "nope.md"), "x"); err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(calls()) != 0 {
		t.Fatalf("no drive call expected")
	}
}
