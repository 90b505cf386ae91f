// Package traceid derives a deterministic W3C trace id for an invocation
// from its InvocationID, so that re-replaying the same invocation (after a
// crash or a leadership change) reproduces the same trace id rather than
// minting a fresh random one.
package traceid

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/justapithecus/restwork/ids"
)

// salt is a fixed, non-secret HKDF salt. It exists only to domain-separate
// trace ids from any other HKDF use sharing the same secret in the future;
// it is not a credential.
var salt = []byte("restwork/traceid/v1")

// Derive returns the 32 hex character (16 byte) W3C trace id for id.
// Deterministic: the same InvocationID always yields the same trace id.
func Derive(id ids.InvocationID) string {
	h := hkdf.New(sha256.New, []byte(id), salt, nil)
	out := make([]byte, 16)
	if _, err := io.ReadFull(h, out); err != nil {
		// hkdf.New's Reader only fails when asked for more output than
		// its extract-and-expand construction can produce; 16 bytes
		// from a SHA-256-backed HKDF is always within range.
		panic("traceid: hkdf expand failed: " + err.Error())
	}
	return hex.EncodeToString(out)
}

// Traceparent builds a minimal W3C traceparent header value for a trace id
// produced by Derive, using spanID as the current span. version 00 and a
// sampled flag of 01 are fixed: this module has no sampling policy.
func Traceparent(traceID string, spanID string) string {
	return "00-" + traceID + "-" + spanID + "-01"
}
