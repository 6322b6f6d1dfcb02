package auth

import (
	"errors"
	"math/big"
)

// base58Alphabet is the Bitcoin/IPFS base58 alphabet used by did:key's
// multibase "z" (base58btc) encoding. No library in the retrieval pack
// provides a base58 decoder (see DESIGN.md), so this small, dependency-free
// implementation stands in for one.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index [256]int8

func init() {
	for i := range base58Index {
		base58Index[i] = -1
	}
	for i, c := range base58Alphabet {
		base58Index[byte(c)] = int8(i)
	}
}

// decodeBase58 decodes a base58btc string into raw bytes, preserving
// leading-zero runs as leading 0x00 bytes per the standard encoding.
func decodeBase58(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty base58 string")
	}

	num := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		idx := base58Index[s[i]]
		if idx < 0 {
			return nil, errors.New("invalid base58 character")
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}

	decoded := num.Bytes()

	leadingZeros := 0
	for i := 0; i < len(s) && s[i] == '1'; i++ {
		leadingZeros++
	}

	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}
