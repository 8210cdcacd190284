package operator

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // protocol-mandated digest, not used for secret storage
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Secrets maps a username to its shared secret, loaded from the
// secrets file: one "username secret" pair per line, blank lines
// allowed.
type Secrets map[string]string

// LoadSecrets parses a secrets file. Malformed lines (neither blank nor
// exactly two space-separated fields) are rejected outright rather than
// silently skipped, since a short secrets file is easy to misdiagnose
// as "nobody configured" instead of "line 4 is wrong".
func LoadSecrets(r io.Reader) (Secrets, error) {
	secrets := make(Secrets)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("secrets file line %d: expected \"username secret\"", lineNo)
		}
		secrets[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	return secrets, nil
}

// Verify checks a USER command's challenge response: sha1_hex(challenge
// + " " + secret), compared in constant time so a timing side-channel
// can't leak how many leading hex digits matched.
func (s Secrets) Verify(user, challenge, response string) bool {
	secret, ok := s[user]
	if !ok {
		return false
	}
	sum := sha1.Sum([]byte(challenge + " " + secret)) //nolint:gosec
	want := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(response)) == 1
}
