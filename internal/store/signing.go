package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/forgerun/execgw/internal/apierr"
)

// payload is the JSON object embedded (base64url-encoded) in a signed URL's
// "payload" query parameter.
type payload struct {
	Path   string `json:"path"`
	Exp    int64  `json:"exp"`
	Method string `json:"method"`
}

// Signer mints and verifies the HMAC-signed download URLs of spec §4.2. The
// design keeps no server-side state per issued URL: the expiry and path
// live inside the signed payload itself, which is what makes Verify a pure
// function of (url, now) and keeps the store free of a second map to
// garbage collect.
type Signer struct {
	key          []byte
	publicPrefix string
	ttl          time.Duration
}

// NewSigner builds a Signer. key is the process-wide HMAC signing key.
func NewSigner(key []byte, publicPrefix string, ttl time.Duration) *Signer {
	return &Signer{key: key, publicPrefix: publicPrefix, ttl: ttl}
}

// Sign mints a signed URL (as "?payload=...&sig=...") authorizing a single
// GET of urlPath until now+ttl.
func (s *Signer) Sign(urlPath string) (query string, expiresAt time.Time, err kv.Error) {
	exp := time.Now().Add(s.ttl)
	p := payload{Path: urlPath, Exp: exp.Unix(), Method: "GET"}

	buf, errGo := json.Marshal(p)
	if errGo != nil {
		return "", time.Time{}, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	encoded := base64.RawURLEncoding.EncodeToString(buf)
	sig := s.sign(buf)

	return urlPath + "?payload=" + encoded + "&sig=" + sig, exp, nil
}

func (s *Signer) sign(payloadJSON []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payloadJSON)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signed URL's payload and signature against the request
// path and current time. Every failure reason — bad signature, mismatched
// path, wrong method, or expiry in the past — collapses to the same
// apierr.Forbidden kind so a client can never distinguish them (spec §4.2
// defense in depth).
func (s *Signer) Verify(requestPath, payloadParam, sigParam string, now time.Time) (err error) {
	buf, errGo := base64.RawURLEncoding.DecodeString(payloadParam)
	if errGo != nil {
		return apierr.New(apierr.Forbidden, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}

	expectedSig := s.sign(buf)
	// Constant-time comparison: no early return on signature mismatch, so
	// verification takes the same time whether sig is close or wildly wrong.
	if subtle.ConstantTimeCompare([]byte(expectedSig), []byte(sigParam)) != 1 {
		return apierr.New(apierr.Forbidden, kv.NewError("signature mismatch").With("stack", stack.Trace().TrimRuntime()))
	}

	var p payload
	if errGo := json.Unmarshal(buf, &p); errGo != nil {
		return apierr.New(apierr.Forbidden, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()))
	}

	if p.Path != requestPath {
		return apierr.New(apierr.Forbidden, kv.NewError("path mismatch").With("stack", stack.Trace().TrimRuntime()))
	}
	if p.Method != "GET" {
		return apierr.New(apierr.Forbidden, kv.NewError("method mismatch").With("stack", stack.Trace().TrimRuntime()))
	}
	if now.After(time.Unix(p.Exp, 0)) {
		return apierr.New(apierr.Forbidden, kv.NewError("signed url expired").With("stack", stack.Trace().TrimRuntime()))
	}

	return nil
}
