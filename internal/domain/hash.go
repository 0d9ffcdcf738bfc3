package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// HashBytes returns the hex-encoded SHA-256 digest over the concatenation of parts.
func HashBytes(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StableJSON encodes v with deterministic key ordering so the same logical
// payload always hashes to the same digest, regardless of map iteration order
// or producer language.
func StableJSON(v any) ([]byte, error) {
	stable, err := normalize(v)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stable); err != nil {
		return nil, fmt.Errorf("domain.StableJSON: %w", err)
	}

	return bytes.TrimSpace(buf.Bytes()), nil
}

// Digest canonicalizes v and returns its hex SHA-256 digest.
func Digest(v any) (string, error) {
	canonical, err := StableJSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// normalize rewrites maps as sorted key/value pair lists so encoding is
// deterministic. Structs round-trip through encoding/json first.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			nv, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, k, nv)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case json.Number:
		return val.String(), nil
	case string, float64, bool, nil:
		return val, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("domain.normalize: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return nil, fmt.Errorf("domain.normalize: %w", err)
		}
		return normalize(decoded)
	}
}
