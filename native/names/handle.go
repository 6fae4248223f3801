package names

import (
	"regexp"
	"strings"

	coreerrors "tappay/core/errors"
	"tappay/crypto"
)

const (
	handleMinLength = 3
	handleMaxLength = 63

	// DefaultNamespace is the parent name every handle is reserved under.
	DefaultNamespace = "tappay.eth"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9-]{3,63}$`)

// ValidateHandle checks handle syntax. Handles are not case-folded, so
// uppercase input is rejected rather than normalised. Strings that parse as
// account addresses are rejected to keep the two syntaxes disjoint.
func ValidateHandle(raw string) (string, error) {
	const op = "names.validate"
	handle := strings.TrimSpace(raw)
	if len(handle) < handleMinLength || len(handle) > handleMaxLength {
		return "", coreerrors.Newf(op, coreerrors.ErrInvalidFormat, "handle must be between %d and %d characters", handleMinLength, handleMaxLength)
	}
	if !handlePattern.MatchString(handle) {
		return "", coreerrors.New(op, coreerrors.ErrInvalidFormat, "allowed characters are [a-z0-9-]")
	}
	if crypto.IsAddress(handle) {
		return "", coreerrors.New(op, coreerrors.ErrInvalidFormat, "handle collides with address syntax")
	}
	return handle, nil
}

// IsHandle reports whether raw is syntactically a handle, in bare or
// namespaced form.
func IsHandle(raw, namespace string) bool {
	_, err := splitName(raw, namespace)
	return err == nil
}

// splitName strips an optional ".<namespace>" suffix and validates the rest.
func splitName(raw, namespace string) (string, error) {
	name := strings.TrimSpace(raw)
	if namespace != "" {
		name = strings.TrimSuffix(name, "."+namespace)
	}
	if strings.Contains(name, ".") {
		return "", coreerrors.New("names.resolve", coreerrors.ErrInvalidFormat, "unknown namespace")
	}
	return ValidateHandle(name)
}
