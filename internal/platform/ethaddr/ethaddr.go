package ethaddr

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Checksum returns the EIP-55 mixed-case form of a hex wallet address.
func Checksum(addr string) (string, error) {
	hexPart := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
	if len(hexPart) != 40 {
		return "", fmt.Errorf("invalid address length %q", addr)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexPart))
	digest := h.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := hexPart[i]
		if c >= 'a' && c <= 'f' {
			// Nibble i of the keccak digest decides the case.
			nibble := digest[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c -= 'a' - 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out), nil
}

// Equal reports whether two wallet addresses refer to the same account,
// ignoring checksum casing and the 0x prefix.
func Equal(a, b string) bool {
	na := normalize(a)
	nb := normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

func normalize(addr string) string {
	a := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
	if len(a) != 40 {
		return ""
	}
	return a
}
