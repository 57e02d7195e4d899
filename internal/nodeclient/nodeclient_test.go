package nodeclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func splitHostPort(t *testing.T, server *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestGetTestSetsUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/test_sets", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ip, port := splitHostPort(t, server)
	c := New([]byte("node-secret"), time.Second, nil)
	resp, err := c.GetTestSets(context.Background(), ip, port)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "[]", string(resp.Body))
}

func TestPatchTestSetsSignsDigestAndAuthorization(t *testing.T) {
	var gotDigest, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		gotDigest = r.Header.Get("Digest")
		gotAuth = r.Header.Get("Authorization")
		file, _, err := r.FormFile("packages")
		require.NoError(t, err)
		defer file.Close()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ip, port := splitHostPort(t, server)
	secret := []byte("node-secret")
	c := New(secret, time.Second, nil)
	resp, err := c.PatchTestSets(context.Background(), ip, port, []byte("archive-bytes"))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotEmpty(t, gotDigest)
	require.Contains(t, gotAuth, "SECCHIWARE-HMAC-256 keyId=C2")
	require.Contains(t, gotAuth, "headers=digest")
}

func TestDeleteTestSetPassesThroughStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/test_sets/pkgA", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ip, port := splitHostPort(t, server)
	c := New([]byte("node-secret"), time.Second, nil)
	resp, err := c.DeleteTestSet(context.Background(), ip, port, "pkgA")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnreachableNodeReturnsErrUnreachable(t *testing.T) {
	// Close the listener immediately so the connection is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := New([]byte("node-secret"), 500*time.Millisecond, nil)
	_, err = c.GetTestSets(context.Background(), "127.0.0.1", port)
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestGetReportsForwardsRawQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ip, port := splitHostPort(t, server)
	c := New([]byte("node-secret"), time.Second, nil)
	resp, err := c.GetReports(context.Background(), ip, port, "packages=pkgA")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "packages=pkgA", gotQuery)
}
