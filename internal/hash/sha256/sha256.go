// Package sha256 provides content-addressing helpers for archived pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// Hasher implements knowledge.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectPath joins prefix, host and the content digest into an archive key
// of the form <prefix>/<host>/<sha256><ext>. Empty segments are omitted.
func (h *Hasher) ObjectPath(prefix, host string, data []byte, ext string) string {
	digest, _ := h.Hash(data)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	segments := make([]string, 0, 3)
	for _, s := range []string{strings.Trim(prefix, "/"), strings.Trim(host, "/")} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	segments = append(segments, digest+ext)
	return path.Join(segments...)
}
