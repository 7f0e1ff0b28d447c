package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// CookieName is the name of the HttpOnly session cookie.
const CookieName = "session_id"

// CSRFCookieName is the name of the client-readable CSRF cookie.
const CSRFCookieName = "csrf_token"

// EncodeCookie builds the signed session cookie value:
// "{session_id}.{base64url(subkey)}.{hmac-signature}". The signature covers
// the session id and subkey together so neither can be forged or mixed
// with a different session without the server's cookie signing key.
func EncodeCookie(signingKey []byte, sessionID string, subkey []byte) string {
	payload := sessionID + "." + base64.RawURLEncoding.EncodeToString(subkey)
	sig := sign(signingKey, payload)
	return payload + "." + sig
}

// DecodeCookie validates the signature and splits a cookie value produced
// by EncodeCookie back into its session id and subkey.
func DecodeCookie(signingKey []byte, value string) (sessionID string, subkey []byte, err error) {
	parts := strings.SplitN(value, ".", 3)
	if len(parts) != 3 {
		return "", nil, fmt.Errorf("session: malformed cookie")
	}
	sessionID, encodedSubkey, sig := parts[0], parts[1], parts[2]

	payload := sessionID + "." + encodedSubkey
	expected := sign(signingKey, payload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return "", nil, fmt.Errorf("session: cookie signature mismatch")
	}

	subkey, err = base64.RawURLEncoding.DecodeString(encodedSubkey)
	if err != nil {
		return "", nil, fmt.Errorf("session: decode subkey: %w", err)
	}

	return sessionID, subkey, nil
}

func sign(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
