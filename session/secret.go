// Package session manages player-session identity: validating client
// secrets, deriving stable player IDs from them, and tracking the mapping
// between secrets, connections, and players across reconnects.
package session

import (
	"errors"
	"strings"
)

// minSecretHexLen is the minimum number of hex characters a secret must
// contain once dashes are stripped.
const minSecretHexLen = 32

// playerIDLen is the number of leading hex characters of a dash-stripped
// secret used as the player ID.
const playerIDLen = 16

// ErrInvalidSecret is returned by ValidateSecret when the secret does not
// meet the format rule: at least 32 hex characters (dashes ignored),
// matching [0-9a-f]+ case-insensitively.
var ErrInvalidSecret = errors.New("session: invalid secret format")

// ValidateSecret checks a client-supplied secret against the format rule.
// It does not normalize the secret; callers that need the stripped form
// should call stripDashes themselves or use DerivePlayerID.
func ValidateSecret(secret string) error {
	stripped := stripDashes(secret)
	if len(stripped) < minSecretHexLen {
		return ErrInvalidSecret
	}
	for _, r := range stripped {
		if !isHexDigit(r) {
			return ErrInvalidSecret
		}
	}
	return nil
}

// DerivePlayerID derives the stable, publicly broadcast player ID from a
// session secret: strip dashes, lowercase, take the first 16 hex
// characters. Not cryptographic — it only avoids leaking the raw secret
// through broadcast state. Callers must validate the secret first.
func DerivePlayerID(secret string) string {
	stripped := strings.ToLower(stripDashes(secret))
	if len(stripped) < playerIDLen {
		return stripped
	}
	return stripped[:playerIDLen]
}

func stripDashes(s string) string {
	if !strings.Contains(s, "-") {
		return s
	}
	return strings.ReplaceAll(s, "-", "")
}

func isHexDigit(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'a' && r <= 'f':
		return true
	case r >= 'A' && r <= 'F':
		return true
	default:
		return false
	}
}
