package room

import (
	"strings"

	"github.com/google/uuid"
)

// roomCodeLength is the length of the short join code clients type in.
const roomCodeLength = 8

// newRoomCode allocates a short uppercase room code. Codes are compared
// case-insensitively everywhere, so the canonical form is upper case.
func newRoomCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:roomCodeLength])
}

// NormalizeCode canonicalizes a client-supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
