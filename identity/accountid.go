package identity

import (
	"errors"
	"regexp"
	"strings"
)

// AccountIDPrefix is the fixed prefix of every Whisper account ID.
const AccountIDPrefix = "WSP"

// accountIDPattern matches the server-assigned WSP-XXXX-XXXX-XXXX format.
var accountIDPattern = regexp.MustCompile(`^WSP-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// ErrInvalidAccountID indicates a string that is not a well-formed
// account ID.
var ErrInvalidAccountID = errors.New("invalid account ID")

// ValidateAccountID checks that s is a well-formed account ID.
// Account IDs are assigned by the server; the client only validates
// their shape.
func ValidateAccountID(s string) error {
	if !accountIDPattern.MatchString(s) {
		return ErrInvalidAccountID
	}
	return nil
}

// NormalizeAccountID upper-cases and trims an account ID entered by a
// user, then validates it.
func NormalizeAccountID(s string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if err := ValidateAccountID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
