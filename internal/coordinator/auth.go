package coordinator

import (
	"errors"
	"io"
	"net/http"

	"github.com/secchiware/coordinator/internal/httputil"
	"github.com/secchiware/coordinator/internal/signing"
)

// clientKeyRecoverer only accepts the keyId "Client", mirroring
// routes.py's client_key_recoverer.
func (d *Deps) clientKeyRecoverer(keyID string) []byte {
	if keyID == "Client" {
		return d.clientSecret
	}
	return nil
}

// nodeKeyRecoverer only accepts the keyId "Node", mirroring
// routes.py's node_key_recoverer.
func (d *Deps) nodeKeyRecoverer(keyID string) []byte {
	if keyID == "Node" {
		return d.nodeSecret
	}
	return nil
}

func headerRecoverer(r *http.Request) signing.HeaderRecoverer {
	return func(name string) (string, bool) {
		v := r.Header.Get(name)
		if v == "" {
			return "", false
		}
		return v, true
	}
}

// readBody reads and returns the full request body, applying the
// configured size cap. Writes a 400 and returns ok=false on overflow or
// read failure.
func (d *Deps) readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		httputil.BadRequest(w, "request body too large or unreadable")
		return nil, false
	}
	return body, true
}

// requireDigest verifies the mandatory "Digest: sha-256=<b64>" header
// against body, per spec.md §4.1/§4.5. Grounded on routes.py's
// check_digest_header.
func (d *Deps) requireDigest(w http.ResponseWriter, r *http.Request, body []byte) bool {
	digest := r.Header.Get("Digest")
	if digest == "" {
		httputil.BadRequest(w, "'Digest' header mandatory")
		return false
	}
	if err := signing.VerifyDigest(digest, body); err != nil {
		httputil.BadRequest(w, err.Error())
		return false
	}
	return true
}

// requireAuth verifies the Authorization header against the given key
// recoverer and mandatory signed-header set, writing the appropriate 401
// on failure. Grounded on routes.py's check_authorization_header.
func (d *Deps) requireAuth(w http.ResponseWriter, r *http.Request, recoverKey signing.KeyRecoverer, mandatory []string) bool {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		httputil.Unauthorized(w, "no 'Authorization' header found in request")
		return false
	}

	err := signing.Verify(auth, recoverKey, headerRecoverer(r), r.Method, r.URL.Path, r.URL.RawQuery, mandatory)
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, signing.ErrMalformed):
		httputil.Unauthorized(w, "malformed 'Authorization' header")
	case errors.Is(err, signing.ErrUnknownKey):
		httputil.Unauthorized(w, "unknown key id")
	case errors.Is(err, signing.ErrMissingHeader):
		httputil.Unauthorized(w, "a mandatory header is not signed")
	case errors.Is(err, signing.ErrInvalidSig):
		httputil.Unauthorized(w, "invalid signature")
	default:
		httputil.Unauthorized(w, "invalid 'Authorization' header")
	}
	return false
}

// requireClientAuth is a convenience wrapper for client-signed endpoints.
func (d *Deps) requireClientAuth(w http.ResponseWriter, r *http.Request, mandatory ...string) bool {
	return d.requireAuth(w, r, d.clientKeyRecoverer, mandatory)
}

// requireNodeAuth is a convenience wrapper for node-signed endpoints.
func (d *Deps) requireNodeAuth(w http.ResponseWriter, r *http.Request, mandatory ...string) bool {
	return d.requireAuth(w, r, d.nodeKeyRecoverer, mandatory)
}

// requireJSON checks the request's declared Content-Type, per routes.py's
// check_is_json.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if mediaTypeOf(ct) != "application/json" {
		httputil.UnsupportedMediaType(w, "Content-Type is not application/json")
		return false
	}
	return true
}

func mediaTypeOf(contentType string) string {
	for i, c := range contentType {
		if c == ';' {
			return contentType[:i]
		}
	}
	return contentType
}
