// Package signing implements the SECCHIWARE-HMAC-256 HTTP request signing
// scheme used between the coordinator, operators and nodes.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the Authorization scheme name this package implements.
const Scheme = "SECCHIWARE-HMAC-256"

// Errors returned by Verify, distinguished so callers can map them to the
// HTTP status taxonomy in spec.md §7.
var (
	ErrMalformed     = errors.New("signing: malformed authorization header")
	ErrUnknownKey    = errors.New("signing: unknown keyId")
	ErrMissingHeader = errors.New("signing: mandatory header not signed")
	ErrInvalidSig    = errors.New("signing: signature does not match")
)

// KeyRecoverer resolves a keyId to a shared secret. It returns nil if no key
// matches the given id.
type KeyRecoverer func(keyID string) []byte

// HeaderRecoverer resolves a header name (already lower-cased) to the value
// that should be bound into the signature.
type HeaderRecoverer func(name string) (string, bool)

// canonicalString builds the string that gets HMAC'd, per spec.md §4.1.
func canonicalString(method, path, query string, headers []string, recover HeaderRecoverer) (string, error) {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')

	if query != "" {
		b.WriteString(encodeQuery(query))
		b.WriteByte('\n')
	}

	for _, h := range headers {
		h = strings.ToLower(h)
		value, ok := recover(h)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrMissingHeader, h)
		}
		b.WriteString(h)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	return strings.TrimRight(b.String(), " \t\r\n"), nil
}

// encodeQuery re-encodes a raw query string so spaces become %20, matching
// the Python original's url.quote semantics (url.QueryEscape uses '+').
func encodeQuery(query string) string {
	values, err := url.ParseQuery(query)
	if err != nil {
		return strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	}
	pairs := make([]string, 0, len(values))
	for k, vs := range values {
		for _, v := range vs {
			pairs = append(pairs, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(pairs, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// New computes a base64-encoded HMAC-SHA256 signature over the canonical
// string built from the given request attributes.
func New(key []byte, method, path, query string, signedHeaders []string, recover HeaderRecoverer) (string, error) {
	str, err := canonicalString(method, path, query, signedHeaders, recover)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(str))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// AuthorizationHeader composes the Authorization header value carrying keyID,
// the ordered list of signed headers (if any), and the signature.
func AuthorizationHeader(keyID, signature string, signedHeaders []string) string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(" keyId=")
	b.WriteString(keyID)
	b.WriteByte(',')
	if len(signedHeaders) > 0 {
		lower := make([]string, len(signedHeaders))
		for i, h := range signedHeaders {
			lower[i] = strings.ToLower(h)
		}
		b.WriteString("headers=")
		b.WriteString(strings.Join(lower, ";"))
		b.WriteByte(',')
	}
	b.WriteString("signature=")
	b.WriteString(signature)
	return b.String()
}

// parsed holds the components extracted from an Authorization header.
type parsed struct {
	keyID         string
	signedHeaders []string
	signature     string
}

func parseAuthorizationHeader(header string) (parsed, error) {
	var out parsed

	prefix := Scheme + " "
	if !strings.HasPrefix(header, prefix) {
		return out, fmt.Errorf("%w: wrong scheme", ErrMalformed)
	}
	rest := strings.TrimPrefix(header, prefix)

	params := strings.Split(rest, ",")
	seen := map[string]string{}
	for _, p := range params {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return out, fmt.Errorf("%w: malformed parameter %q", ErrMalformed, p)
		}
		seen[kv[0]] = kv[1]
	}

	keyID, ok := seen["keyId"]
	if !ok || keyID == "" {
		return out, fmt.Errorf("%w: missing keyId", ErrMalformed)
	}
	out.keyID = keyID

	if raw, ok := seen["headers"]; ok && raw != "" {
		out.signedHeaders = strings.Split(raw, ";")
	}

	signature, ok := seen["signature"]
	if !ok || signature == "" {
		return out, fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	out.signature = signature

	return out, nil
}

// Verify checks an Authorization header value against the request it was
// attached to. mandatoryHeaders lists header names (case-insensitive) that
// MUST appear in the header's signed-headers list.
func Verify(
	authorizationHeader string,
	recoverKey KeyRecoverer,
	recoverHeader HeaderRecoverer,
	method, path, query string,
	mandatoryHeaders []string,
) error {
	p, err := parseAuthorizationHeader(authorizationHeader)
	if err != nil {
		return err
	}

	key := recoverKey(p.keyID)
	if key == nil {
		return fmt.Errorf("%w: %q", ErrUnknownKey, p.keyID)
	}

	signedSet := make(map[string]struct{}, len(p.signedHeaders))
	for _, h := range p.signedHeaders {
		signedSet[strings.ToLower(h)] = struct{}{}
	}
	for _, m := range mandatoryHeaders {
		if _, ok := signedSet[strings.ToLower(m)]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingHeader, m)
		}
	}

	expected, err := New(key, method, path, query, p.signedHeaders, recoverHeader)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(p.signature)) != 1 {
		return ErrInvalidSig
	}
	return nil
}

// VerifyDigest checks a "Digest: sha-256=<b64>" header against the actual
// request body, using constant-time comparison.
func VerifyDigest(digestHeader string, body []byte) error {
	const prefix = "sha-256="
	if !strings.HasPrefix(digestHeader, prefix) {
		return fmt.Errorf("%w: digest algorithm must be sha-256", ErrMalformed)
	}
	given := strings.TrimPrefix(digestHeader, prefix)
	sum := sha256.Sum256(body)
	expected := base64.StdEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(given)) != 1 {
		return fmt.Errorf("%w: digest mismatch", ErrMalformed)
	}
	return nil
}

// Digest computes the "Digest" header value for a request body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
}
