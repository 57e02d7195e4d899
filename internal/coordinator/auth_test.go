package coordinator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secchiware/coordinator/internal/signing"
)

func testDeps() *Deps {
	return &Deps{
		clientSecret: []byte("client-secret"),
		nodeSecret:   []byte("node-secret"),
	}
}

func TestRequireDigestAcceptsMatchingDigest(t *testing.T) {
	d := testDeps()
	body := []byte(`["pkg"]`)
	req := httptest.NewRequest(http.MethodPatch, "/environments/1.2.3.4/8080/installed", nil)
	req.Header.Set("Digest", signing.Digest(body))
	w := httptest.NewRecorder()

	ok := d.requireDigest(w, req, body)
	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireDigestRejectsMissingHeader(t *testing.T) {
	d := testDeps()
	req := httptest.NewRequest(http.MethodPatch, "/test_sets", nil)
	w := httptest.NewRecorder()

	ok := d.requireDigest(w, req, []byte("body"))
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireDigestRejectsMismatch(t *testing.T) {
	d := testDeps()
	req := httptest.NewRequest(http.MethodPatch, "/test_sets", nil)
	req.Header.Set("Digest", signing.Digest([]byte("other body")))
	w := httptest.NewRecorder()

	ok := d.requireDigest(w, req, []byte("body"))
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireClientAuthAcceptsValidSignature(t *testing.T) {
	d := testDeps()
	req := httptest.NewRequest(http.MethodDelete, "/test_sets/foo", nil)

	recover := func(name string) (string, bool) {
		v := req.Header.Get(name)
		if v == "" {
			return "", false
		}
		return v, true
	}
	sig, err := signing.New(d.clientSecret, http.MethodDelete, "/test_sets/foo", "", nil, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.AuthorizationHeader("Client", sig, nil))

	w := httptest.NewRecorder()
	ok := d.requireClientAuth(w, req)
	assert.True(t, ok)
}

func TestRequireClientAuthRejectsNodeKeyID(t *testing.T) {
	d := testDeps()
	req := httptest.NewRequest(http.MethodDelete, "/test_sets/foo", nil)

	recover := func(name string) (string, bool) { return "", false }
	sig, err := signing.New(d.nodeSecret, http.MethodDelete, "/test_sets/foo", "", nil, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.AuthorizationHeader("Node", sig, nil))

	w := httptest.NewRecorder()
	ok := d.requireClientAuth(w, req)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireClientAuthRejectsMissingMandatorySignedHeader(t *testing.T) {
	d := testDeps()
	req := httptest.NewRequest(http.MethodPatch, "/test_sets", nil)
	req.Header.Set("Digest", "sha-256=abc")

	recover := func(name string) (string, bool) {
		v := req.Header.Get(name)
		if v == "" {
			return "", false
		}
		return v, true
	}
	// Sign without listing "Digest" as a signed header.
	sig, err := signing.New(d.clientSecret, http.MethodPatch, "/test_sets", "", nil, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.AuthorizationHeader("Client", sig, nil))

	w := httptest.NewRecorder()
	ok := d.requireClientAuth(w, req, "Digest")
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireJSONRejectsNonJSONContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/executions", nil)
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()

	ok := requireJSON(w, req)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRequireJSONAcceptsJSONWithParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/executions", nil)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := httptest.NewRecorder()

	ok := requireJSON(w, req)
	assert.True(t, ok)
}

func TestReadBodyEnforcesSizeLimit(t *testing.T) {
	d := testDeps()
	req := httptest.NewRequest(http.MethodPatch, "/test_sets", strings.NewReader(strings.Repeat("a", 100)))
	w := httptest.NewRecorder()

	_, ok := d.readBody(w, req, 10)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
