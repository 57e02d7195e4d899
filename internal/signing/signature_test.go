package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerMap(m map[string]string) HeaderRecoverer {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestNewAndVerifyRoundTrip(t *testing.T) {
	key := []byte("super-secret")
	headers := map[string]string{"digest": "sha-256=abc123"}

	sig, err := New(key, "PATCH", "/test_sets", "", []string{"Digest"}, headerMap(headers))
	require.NoError(t, err)

	authHeader := AuthorizationHeader("Client", sig, []string{"Digest"})

	recoverKey := func(keyID string) []byte {
		if keyID == "Client" {
			return key
		}
		return nil
	}

	err = Verify(authHeader, recoverKey, headerMap(headers), "PATCH", "/test_sets", "", []string{"Digest"})
	assert.NoError(t, err)
}

func TestVerifyUnknownKey(t *testing.T) {
	sig, _ := New([]byte("k"), "GET", "/environments", "", nil, nil)
	authHeader := AuthorizationHeader("Client", sig, nil)

	err := Verify(authHeader, func(string) []byte { return nil }, nil, "GET", "/environments", "", nil)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestVerifyMissingMandatoryHeader(t *testing.T) {
	key := []byte("k")
	sig, err := New(key, "POST", "/environments", "", nil, nil)
	require.NoError(t, err)
	authHeader := AuthorizationHeader("Node", sig, nil)

	err = Verify(authHeader, func(string) []byte { return key }, nil, "POST", "/environments", "", []string{"Digest"})
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestVerifyTamperedSignature(t *testing.T) {
	key := []byte("k")
	authHeader := AuthorizationHeader("Client", "not-a-real-signature", nil)

	err := Verify(authHeader, func(string) []byte { return key }, nil, "GET", "/environments", "", nil)
	assert.ErrorIs(t, err, ErrInvalidSig)
}

func TestVerifyMalformedHeader(t *testing.T) {
	err := Verify("Bearer abc", func(string) []byte { return []byte("k") }, nil, "GET", "/x", "", nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCanonicalStringIncludesQuery(t *testing.T) {
	key := []byte("k")
	sigA, err := New(key, "GET", "/executions", "order_by=id&limit=5", nil, nil)
	require.NoError(t, err)
	sigB, err := New(key, "GET", "/executions", "order_by=id&limit=6", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, sigA, sigB)
}

func TestDigestRoundTrip(t *testing.T) {
	body := []byte(`{"ip":"10.0.0.5"}`)
	d := Digest(body)
	assert.NoError(t, VerifyDigest(d, body))
	assert.Error(t, VerifyDigest(d, []byte("tampered")))
}

func TestAuthorizationHeaderFormat(t *testing.T) {
	h := AuthorizationHeader("Client", "sig==", []string{"Digest", "X-Foo"})
	assert.Equal(t, `SECCHIWARE-HMAC-256 keyId=Client,headers=digest;x-foo,signature=sig==`, h)
}

func TestAuthorizationHeaderNoHeaders(t *testing.T) {
	h := AuthorizationHeader("Node", "sig==", nil)
	assert.Equal(t, `SECCHIWARE-HMAC-256 keyId=Node,signature=sig==`, h)
}
