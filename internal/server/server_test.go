package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secure-fields/internal/auth"
	"secure-fields/internal/field"
	"secure-fields/internal/keystore"
)

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	values *field.MemStore
	admin  auth.Session
	owner  auth.Session
	viewer auth.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	keys, err := keystore.NewManager(
		keystore.NewFileStore(filepath.Join(t.TempDir(), "master.key")),
		keystore.Config{Passphrase: []byte("test-pass")},
	)
	require.NoError(t, err)

	registry, err := field.NewRegistry([]field.DefinitionConfig{
		{ID: "stripe_api_key", Context: "api_key", Pattern: `^sk-[A-Za-z0-9-]+$`},
		{ID: "notes", Context: "sensitive"},
		{ID: "owner_phone", Context: "personal", Owner: "alice"},
		{ID: "banner", Context: "public"},
	})
	require.NoError(t, err)

	priv, _, err := auth.GenerateEd25519()
	require.NoError(t, err)

	values := field.NewMemStore()
	srv, err := NewWith(Config{RevealTTL: 45 * time.Second}, Deps{
		Keys:     keys,
		Values:   values,
		Registry: registry,
		Signer:   auth.NewSigner(priv, "secure-fields", time.Minute),
	})
	require.NoError(t, err)

	admin, err := srv.IssueSession("root", []auth.Capability{auth.CapManage})
	require.NoError(t, err)
	owner, err := srv.IssueSession("alice", nil)
	require.NoError(t, err)
	viewer, err := srv.IssueSession("mallory", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, values: values, admin: admin, owner: owner, viewer: viewer}
}

func (e *testEnv) post(t *testing.T, sess auth.Session, path string, body any, withCSRF bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	} else {
		buf.WriteString("{}")
	}
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	if withCSRF {
		req.Header.Set(auth.CSRFHeader, sess.CSRF)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSaveThenReveal(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, e.admin, "/secure-fields/stripe_api_key/save", saveRequest{Value: "sk-live-abc"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeBody[map[string]bool](t, resp)
	require.True(t, saved["success"])

	resp = e.post(t, e.admin, "/secure-fields/stripe_api_key/reveal", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[revealResponse](t, resp)
	require.Equal(t, "sk-live-abc", got.Plaintext)
	require.Equal(t, 45, got.ExpiresIn)
}

func TestRevealRequiresCSRF(t *testing.T) {
	e := newTestEnv(t)
	resp := e.post(t, e.admin, "/secure-fields/notes/reveal", nil, false)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRevealRequiresSession(t *testing.T) {
	e := newTestEnv(t)
	resp, err := e.ts.Client().Post(e.ts.URL+"/secure-fields/notes/reveal", "application/json", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownField(t *testing.T) {
	e := newTestEnv(t)
	resp := e.post(t, e.admin, "/secure-fields/nonexistent/reveal", nil, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCapabilityGating(t *testing.T) {
	e := newTestEnv(t)

	// api_key requires manage.
	resp := e.post(t, e.viewer, "/secure-fields/stripe_api_key/reveal", nil, true)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// personal requires ownership, admin alone is not enough.
	resp = e.post(t, e.admin, "/secure-fields/owner_phone/reveal", nil, true)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.post(t, e.owner, "/secure-fields/owner_phone/reveal", nil, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSaveValidatesFormat(t *testing.T) {
	e := newTestEnv(t)
	resp := e.post(t, e.admin, "/secure-fields/stripe_api_key/save", saveRequest{Value: "totally wrong"}, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	require.Contains(t, body["error"], "format constraint")
}

func TestSaveSkipsDoubleEncryption(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, e.admin, "/secure-fields/notes/save", saveRequest{Value: "original secret"}, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := e.values.Get(context.Background(), "notes")
	require.NoError(t, err)
	require.True(t, e.srv.codec.IsEncryptedValue(stored))

	// Re-save the unedited envelope; the slot must hold it byte for byte.
	resp = e.post(t, e.admin, "/secure-fields/notes/save", saveRequest{Value: stored}, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	after, err := e.values.Get(context.Background(), "notes")
	require.NoError(t, err)
	require.Equal(t, stored, after)

	pt, err := e.srv.codec.Decrypt(after)
	require.NoError(t, err)
	require.Equal(t, "original secret", pt)
}

func TestRotationInvalidatesStoredValues(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, e.admin, "/secure-fields/notes/save", saveRequest{Value: "pre-rotation"}, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.post(t, e.admin, "/secure-keys/rotate?force=true", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decodeBody[map[string]bool](t, resp)
	require.True(t, rotated["rotated"])

	resp = e.post(t, e.admin, "/secure-fields/notes/reveal", nil, true)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	require.Equal(t, "cannot decrypt value", body["error"])

	// Fresh saves work under the new generation.
	resp = e.post(t, e.admin, "/secure-fields/notes/save", saveRequest{Value: "post-rotation"}, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.post(t, e.admin, "/secure-fields/notes/reveal", nil, true)
	got := decodeBody[revealResponse](t, resp)
	require.Equal(t, "post-rotation", got.Plaintext)
}

func TestRotateRequiresManage(t *testing.T) {
	e := newTestEnv(t)
	resp := e.post(t, e.viewer, "/secure-keys/rotate?force=true", nil, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSecurityCheckEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, e.admin, "/secure-fields/notes/save", saveRequest{Value: "seed"}, true)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, e.ts.URL+"/secure-keys/check", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.admin.Token)
	resp, err = e.ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decodeBody[keystore.Report](t, resp)
	require.True(t, rep.AEADAvailable)
	require.True(t, rep.KeyPresent)
}

func TestRevealEmptySlot(t *testing.T) {
	e := newTestEnv(t)
	resp := e.post(t, e.admin, "/secure-fields/notes/reveal", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[revealResponse](t, resp)
	require.Equal(t, "", got.Plaintext)
}
