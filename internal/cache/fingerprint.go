package cache

import (
	"github.com/zeebo/blake3"

	"github.com/lattice-run/llmgate/internal/core"
)

// fingerprintDomain prefixes every hashed input so a fingerprint can never
// collide with a hash computed for an unrelated purpose elsewhere in the
// system, and so the hash format can be versioned later without touching
// existing cached entries' shapes.
const fingerprintDomain = "llmgate.fp.v1\x00"

// Fingerprint is the 32-byte BLAKE3 digest identifying a cacheable request.
// Two requests with the same model and prompt produce the same fingerprint
// regardless of temperature or max-token settings — those parameters are
// forwarded to the provider but do not affect caching.
type Fingerprint [32]byte

// NewFingerprint hashes model and prompt into a Fingerprint. The
// domain-separated layout is model \x00 prompt so distinct models never
// collide even when one model name is a prefix of another.
func NewFingerprint(req core.Request) Fingerprint {
	h := blake3.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))

	var fp Fingerprint
	sum := h.Sum(nil)
	copy(fp[:], sum)
	return fp
}

// shard selects one of the cache's independently-locked partitions from the
// fingerprint's low-order byte, spreading contention without needing a
// second hash pass.
func (f Fingerprint) shard(n int) int {
	return int(f[len(f)-1]) % n
}
