package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress decodes a 0x-prefixed (or bare) 20-byte hex identity.
func ParseAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// FormatAddress renders addr as lowercase 0x-prefixed hex.
func FormatAddress(addr [20]byte) string {
	return strings.ToLower(common.Address(addr).Hex())
}
