package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"

	coreerrors "tappay/core/errors"
)

// AddressPrefix is the human-readable part used when rendering accounts as
// bech32 strings.
type AddressPrefix string

const TapPrefix AddressPrefix = "tap"

// FormatAddress renders the account with the tap bech32 prefix.
func FormatAddress(addr common.Address) string {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return addr.Hex()
	}
	encoded, err := bech32.Encode(string(TapPrefix), conv)
	if err != nil {
		return addr.Hex()
	}
	return encoded
}

// ParseAddress accepts either a 0x-prefixed hex account or a tap1... bech32
// account. Bare hex without the 0x prefix is rejected so that handle strings
// are never mistaken for accounts.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, coreerrors.New("crypto", coreerrors.ErrInvalidAddress, "address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return common.Address{}, coreerrors.Newf("crypto", coreerrors.ErrInvalidAddress, "malformed hex address %q", trimmed)
		}
		return common.HexToAddress(trimmed), nil
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return common.Address{}, coreerrors.Wrap("crypto", coreerrors.ErrInvalidAddress, fmt.Errorf("decode bech32: %w", err))
	}
	if AddressPrefix(prefix) != TapPrefix {
		return common.Address{}, coreerrors.Newf("crypto", coreerrors.ErrInvalidAddress, "unexpected prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return common.Address{}, coreerrors.Wrap("crypto", coreerrors.ErrInvalidAddress, fmt.Errorf("convert bits: %w", err))
	}
	if len(conv) != common.AddressLength {
		return common.Address{}, coreerrors.Newf("crypto", coreerrors.ErrInvalidAddress, "address must be %d bytes", common.AddressLength)
	}
	return common.BytesToAddress(conv), nil
}

// IsAddress reports whether the string parses as an account address.
func IsAddress(raw string) bool {
	_, err := ParseAddress(raw)
	return err == nil
}

// LockKey returns the canonical key used to serialise mutations on the
// account.
func LockKey(addr common.Address) string {
	return "acct/" + strings.ToLower(addr.Hex())
}
