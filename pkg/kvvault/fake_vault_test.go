package kvvault

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeVault is an in-memory stand-in for the Vault HTTP API: the KV v2
// data/metadata endpoints plus token renew-self and lookup-self.
type fakeVault struct {
	srv *httptest.Server

	mu       sync.Mutex
	secrets  map[string]map[string]interface{}
	versions map[string]int

	renewCount  atomic.Int64
	lookupCount atomic.Int64
	failRenew   atomic.Bool
	failLookup  atomic.Bool
	failKV      atomic.Bool
}

func newFakeVault(t *testing.T) *fakeVault {
	t.Helper()
	f := &fakeVault{
		secrets:  make(map[string]map[string]interface{}),
		versions: make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeVault) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/v1/auth/token/renew-self":
		f.renewCount.Add(1)
		if f.failRenew.Load() {
			writeVaultError(w, http.StatusForbidden, "permission denied")
			return
		}
		writeVaultJSON(w, map[string]interface{}{
			"auth": map[string]interface{}{
				"client_token":   "test-token",
				"lease_duration": 3600,
				"renewable":      true,
			},
		})
	case r.URL.Path == "/v1/auth/token/lookup-self":
		f.lookupCount.Add(1)
		if f.failLookup.Load() {
			writeVaultError(w, http.StatusForbidden, "permission denied")
			return
		}
		writeVaultJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"accessor":    "test-accessor",
				"expire_time": "2030-01-01T00:00:00Z",
			},
		})
	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		f.handleData(w, r, strings.TrimPrefix(r.URL.Path, "/v1/secret/data/"))
	case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/"):
		f.handleList(w, strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/"))
	default:
		writeVaultError(w, http.StatusNotFound, fmt.Sprintf("no handler for %s", r.URL.Path))
	}
}

func (f *fakeVault) handleData(w http.ResponseWriter, r *http.Request, path string) {
	if f.failKV.Load() {
		writeVaultError(w, http.StatusInternalServerError, "internal error")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		data, ok := f.secrets[path]
		if !ok {
			writeVaultNotFound(w)
			return
		}
		writeVaultJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"data": data,
				"metadata": map[string]interface{}{
					"version":      f.versions[path],
					"created_time": time.Now().UTC().Format(time.RFC3339Nano),
				},
			},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeVaultError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.secrets[path] = body.Data
		f.versions[path]++
		writeVaultJSON(w, map[string]interface{}{
			"data": map[string]interface{}{
				"version":      f.versions[path],
				"created_time": time.Now().UTC().Format(time.RFC3339Nano),
			},
		})
	case http.MethodDelete:
		if _, ok := f.secrets[path]; !ok {
			writeVaultError(w, http.StatusNotFound, "secret not found")
			return
		}
		delete(f.secrets, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeVaultError(w, http.StatusMethodNotAllowed, r.Method)
	}
}

// handleList serves the immediate key names under the prefix, the way the
// KV v2 metadata LIST endpoint does: leaves as-is, sub-trees with a trailing
// slash, 404 when nothing lives under the prefix.
func (f *fakeVault) handleList(w http.ResponseWriter, path string) {
	if f.failKV.Load() {
		writeVaultError(w, http.StatusInternalServerError, "internal error")
		return
	}

	prefix := strings.TrimSuffix(path, "/")
	if prefix != "" {
		prefix += "/"
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)
	var keys []string
	for p := range f.secrets {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i+1]
		}
		if !seen[rest] {
			seen[rest] = true
			keys = append(keys, rest)
		}
	}
	if len(keys) == 0 {
		writeVaultNotFound(w)
		return
	}
	sort.Strings(keys)
	writeVaultJSON(w, map[string]interface{}{
		"data": map[string]interface{}{"keys": keys},
	})
}

func writeVaultJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeVaultError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{msg}})
}

func writeVaultNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{}})
}

// newTestClient builds a Client against the fake server. The default refresh
// interval is long enough that renewal never fires unless a test opts in.
func newTestClient(t *testing.T, f *fakeVault, opts ...func(*Config)) *Client {
	t.Helper()

	cfg := Config{
		Token:                "test-token",
		Address:              f.srv.URL,
		Mount:                "secret",
		TokenRefreshInterval: time.Hour,
		Logger:               zaptest.NewLogger(t),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		<-client.done
	})
	return client
}
