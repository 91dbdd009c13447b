package client

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/syftupload/internal/client/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrToURL(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want string
		err  bool
	}{
		{"addr-with-host-port", "localhost:8080", "http://localhost:8080", false},
		{"addr-with-ip-port", "0.0.0.0:8080", "http://0.0.0.0:8080", false},
		{"addr-with-only-port", ":8080", "http://0.0.0.0:8080", false},
		{"addr-with-only-host", "localhost:", "", true},
		{"addr-missing-host", "8080", "", true},
		{"addr-missing-port", "localhost", "", true},
		{"addr-with-http", "http://localhost:8080", "", true},
		{"empty", "", "", true},
	}
	for _, test := range tests {
		val, err := addrToURL(test.addr)
		if test.err {
			assert.Error(t, err, test.name)
		} else {
			assert.NoError(t, err)
			assert.Equal(t, test.want, val, test.name)
		}
	}
}

func TestRoutes_AuthAndUploadFlow(t *testing.T) {
	remote := newMemRemote()
	c := newTestClient(t, remote)
	h := SetupRoutes(c.Orchestrator(), &RouteConfig{
		UserID: "alice",
		Auth:   middleware.TokenAuthConfig{Token: "secret"},
	})

	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	// index is public
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// uploads need the token
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/uploads", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := bytes.NewBufferString(`{"paths":["` + filepath.ToSlash(path) + `"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return remote.completed() == 1 && completedFiles(c) == 1
	}, 5*time.Second, 10*time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/v1/uploads?token=secret", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"alice"`)
}

func TestRoutes_NotFoundAndMethod(t *testing.T) {
	c := newTestClient(t, newMemRemote())
	h := SetupRoutes(c.Orchestrator(), &RouteConfig{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/uploads", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestNewControlPlaneServer_RejectsBadAddr(t *testing.T) {
	c := newTestClient(t, newMemRemote())
	_, err := NewControlPlaneServer(&ControlPlaneConfig{Addr: "nope"}, c.Orchestrator(), "alice")
	assert.Error(t, err)
}
