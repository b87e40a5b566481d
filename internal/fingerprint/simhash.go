package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	fnvOffsetBasis uint64 = 0xcbf29ce484222325
	fnvPrime       uint64 = 0x100000001b3

	// SignatureBits is the width of every signature.
	SignatureBits = 64
)

// HashToken returns the 64-bit FNV-1a hash of token.
func HashToken(token string) uint64 {
	h := fnvOffsetBasis
	for i := 0; i < len(token); i++ {
		h ^= uint64(token[i])
		h *= fnvPrime
	}
	return h
}

// SimHash folds tokens into a 64-bit locality-sensitive signature. Empty tokens are ignored.
// Bit b of the result is set when at least as many token hashes have b set as have it clear,
// so an empty input yields all ones.
func SimHash(tokens []string) uint64 {
	var weights [SignatureBits]int
	for _, token := range tokens {
		if token == "" {
			continue
		}
		h := HashToken(token)
		for bit := 0; bit < SignatureBits; bit++ {
			if h&(uint64(1)<<bit) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < SignatureBits; bit++ {
		if weights[bit] >= 0 {
			result |= uint64(1) << bit
		}
	}
	return result
}

// HammingDistance counts differing bits between a and b.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// FormatSignature encodes a signature as an unsigned decimal string.
func FormatSignature(sig uint64) string {
	return strconv.FormatUint(sig, 10)
}

// ParseSignature decodes a decimal or 0x-prefixed hex signature. Negative decimals are read as
// their two's complement bit pattern so values round-trip through signed bigint columns.
func ParseSignature(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("signature is empty")
	}

	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		v, err := strconv.ParseUint(trimmed[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parse hex signature %q: %w", raw, err)
		}
		return v, nil
	}

	if strings.HasPrefix(trimmed, "-") {
		v, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse signature %q: %w", raw, err)
		}
		return uint64(v), nil
	}

	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse signature %q: %w", raw, err)
	}
	return v, nil
}

// SignatureDistance parses both signatures and returns their Hamming distance.
func SignatureDistance(a, b string) (int, error) {
	left, err := ParseSignature(a)
	if err != nil {
		return SignatureBits, err
	}
	right, err := ParseSignature(b)
	if err != nil {
		return SignatureBits, err
	}
	return HammingDistance(left, right), nil
}

// JaccardIndex returns |A∩B| / |A∪B| over the distinct values of a and b.
// Two empty sets are identical.
func JaccardIndex(a, b []string) float64 {
	left := tokenSet(a)
	right := tokenSet(b)
	if len(left) == 0 && len(right) == 0 {
		return 1
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}

	union := len(left) + len(right) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}
