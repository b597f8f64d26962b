package digest

import (
	"crypto/sha256"
	"fmt"
)

// Sum returns the SHA-256 of a dataset body as a hex string.
func Sum(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// Short abbreviates a digest for log output.
func Short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
