package internal

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRuntime(t *testing.T, store string) *Runtime {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Backup.Path = filepath.Join(dir, "backups")
	cfg.Backup.Watch = false
	cfg.SQLite.Path = filepath.Join(dir, "guardian.db")
	cfg.License.Store = store
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	rt, err := NewRuntime(WithConfig(cfg), WithLogWriter(io.Discard))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewRuntime_RequiresConfig(t *testing.T) {
	if _, err := NewRuntime(WithLogWriter(io.Discard)); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestNewRuntime_CreatesBackupDir(t *testing.T) {
	rt := testRuntime(t, LicenseStoreSQLite)
	if fi, err := os.Stat(rt.Config.Backup.Path); err != nil || !fi.IsDir() {
		t.Fatalf("backup dir not created: %v", err)
	}
}

func TestHandler_Health(t *testing.T) {
	rt := testRuntime(t, LicenseStoreMemory)
	h := rt.Handler()

	if w := get(t, h, "/health/live"); w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}
	if w := get(t, h, "/health/ready"); w.Code != http.StatusOK {
		t.Errorf("ready = %d", w.Code)
	}

	if err := os.RemoveAll(rt.Config.Backup.Path); err != nil {
		t.Fatal(err)
	}
	if w := get(t, h, "/health/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready without backup dir = %d, want 503", w.Code)
	}
}

func TestHandler_LicenseFlowFeedsMetrics(t *testing.T) {
	for _, store := range []string{LicenseStoreMemory, LicenseStoreSQLite} {
		t.Run(store, func(t *testing.T) {
			rt := testRuntime(t, store)
			h := rt.Handler()

			body := `{"capsule_id":"cap-1","author":{"name":"a","wallet_address":"0xa"},` +
				`"grief_score":8,"truth_confidence":90,"license_type":"commercial","licensed_to":"alice"}`
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/licenses", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			h.ServeHTTP(w, req)
			if w.Code != http.StatusCreated {
				t.Fatalf("issue = %d, body = %s", w.Code, w.Body.String())
			}

			w = get(t, h, "/api/licenses")
			if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "cap-1") {
				t.Fatalf("list = %d, body = %s", w.Code, w.Body.String())
			}

			w = get(t, h, "/metrics")
			if w.Code != http.StatusOK {
				t.Fatalf("metrics = %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), `guardian_license_issued_total{type="commercial"} 1`) {
				t.Errorf("issued counter missing:\n%s", w.Body.String())
			}
			if !strings.Contains(w.Body.String(), "go_goroutines") {
				t.Error("runtime collectors not registered")
			}
		})
	}
}

func TestHandler_AuthProtectsAPIOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Backup.Path = filepath.Join(dir, "backups")
	cfg.SQLite.Path = filepath.Join(dir, "guardian.db")
	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "secret"}

	rt, err := NewRuntime(WithConfig(cfg), WithLogWriter(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	h := rt.Handler()

	if w := get(t, h, "/api/licenses"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated api = %d, want 401", w.Code)
	}
	if w := get(t, h, "/health/live"); w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}
