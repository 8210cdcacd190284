package operator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// nonceBytes produces a 44-hex-char challenge, comfortably above the
// protocol's 40-char floor for the connect-sequence nonce and the
// notify channel's tie token.
const nonceBytes = 22

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
