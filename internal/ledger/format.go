package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// FormatAmount formats an amount in smallest units as a decimal string.
// FormatAmount(big.NewInt(150000000), 8) returns "1.5". A nil amount is zero.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		amount = new(big.Int)
	}
	if decimals == 0 {
		return amount.String()
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(amount, divisor, new(big.Int))

	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%0*d", int(decimals), frac), "0")
	return whole.String() + "." + fracStr
}

// NormalizeAddress returns the canonical form used to compare and index
// participant addresses. EVM hex addresses are case-insensitive, so they are
// reduced to their checksum encoding; anything else is only trimmed.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
