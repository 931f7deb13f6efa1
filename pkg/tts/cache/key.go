package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key is the hex-encoded SHA-256 digest of the canonical synthesis
// parameter string (spec.md §3): "text|provider|voice|speed|k1=v1|k2=v2…"
// with extras sorted by key.
type Key string

// NewKey derives the deterministic cache key for a synthesis request.
// extras must already be limited to a provider's declared
// CacheAffectingParams — the facade enforces that before calling in.
func NewKey(text, provider, voice string, speed float64, extras map[string]string) Key {
	var b strings.Builder
	b.WriteString(text)
	b.WriteByte('|')
	b.WriteString(provider)
	b.WriteByte('|')
	b.WriteString(voice)
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(speed, 'f', -1, 64))

	if len(extras) > 0 {
		keys := make([]string, 0, len(extras))
		for k := range extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(extras[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return Key(hex.EncodeToString(sum[:]))
}

func (k Key) String() string { return string(k) }

// Filename returns the hex digest as a filesystem-safe name, used by the
// filesystem tier (spec.md §6: "<cache_dir>/<sha256_hex>").
func (k Key) Filename() string { return string(k) }

// RedisKey prefixes the digest for the shared KV tier's keyspace.
func (k Key) RedisKey(prefix string) string {
	return fmt.Sprintf("%s%s", prefix, k)
}
