// Package cashaddr encodes and decodes Bitcoin Cash CashAddr addresses,
// including the CashTokens token-aware address types.
package cashaddr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// AddrType is the type nibble of the version byte.
type AddrType byte

const (
	P2PKH           AddrType = 0
	P2SH            AddrType = 1
	P2PKHWithTokens AddrType = 2
	P2SHWithTokens  AddrType = 3
)

func (t AddrType) String() string {
	switch t {
	case P2PKH:
		return "p2pkh"
	case P2SH:
		return "p2sh"
	case P2PKHWithTokens:
		return "p2pkh-tokens"
	case P2SHWithTokens:
		return "p2sh-tokens"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

var (
	ErrInvalidChecksum = errors.New("cashaddr: invalid checksum")
	ErrMixedCase       = errors.New("cashaddr: mixed case")
	ErrInvalidLength   = errors.New("cashaddr: hash length does not match version byte")
	ErrUnknownType     = errors.New("cashaddr: unknown address type")
)

var charsetRev [128]int8

func init() {
	for i := range charsetRev {
		charsetRev[i] = -1
	}
	for i, c := range charset {
		charsetRev[c] = int8(i)
	}
}

// sizeBytes maps the low 3 bits of the version byte to a hash length.
var sizeBytes = [8]int{20, 24, 28, 32, 40, 48, 56, 64}

// Address is a decoded CashAddr.
type Address struct {
	Prefix string
	Type   AddrType
	Hash   []byte
}

// Encode builds the textual address for a hash of 20 or 32 bytes
// (other standard sizes are accepted too).
func Encode(prefix string, t AddrType, hash []byte) (string, error) {
	if t > P2SHWithTokens {
		return "", ErrUnknownType
	}
	sizeCode := -1
	for i, n := range sizeBytes {
		if n == len(hash) {
			sizeCode = i
			break
		}
	}
	if sizeCode < 0 {
		return "", fmt.Errorf("cashaddr: unsupported hash length %d", len(hash))
	}
	prefix = strings.ToLower(prefix)

	payload := make([]byte, 0, len(hash)+1)
	payload = append(payload, byte(t)<<3|byte(sizeCode))
	payload = append(payload, hash...)
	data, err := convertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}

	checksum := createChecksum(prefix, data)
	var sb strings.Builder
	sb.Grow(len(prefix) + 1 + len(data) + len(checksum))
	sb.WriteString(prefix)
	sb.WriteByte(':')
	for _, d := range data {
		sb.WriteByte(charset[d])
	}
	for _, d := range checksum {
		sb.WriteByte(charset[d])
	}
	return sb.String(), nil
}

// Decode parses addr. When addr has no prefix, defaultPrefix is assumed.
func Decode(addr, defaultPrefix string) (*Address, error) {
	if addr == "" {
		return nil, errors.New("cashaddr: empty address")
	}
	lower := strings.ToLower(addr)
	if lower != addr && strings.ToUpper(addr) != addr {
		return nil, ErrMixedCase
	}

	prefix, body := defaultPrefix, lower
	if i := strings.LastIndexByte(lower, ':'); i >= 0 {
		prefix, body = lower[:i], lower[i+1:]
	}
	prefix = strings.ToLower(prefix)
	if prefix == "" {
		return nil, errors.New("cashaddr: missing prefix")
	}
	if len(body) < 8+2 {
		return nil, errors.New("cashaddr: address too short")
	}

	data := make([]byte, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= 128 || charsetRev[c] < 0 {
			return nil, fmt.Errorf("cashaddr: invalid character %q", c)
		}
		data[i] = byte(charsetRev[c])
	}
	if polymod(append(prefixData(prefix), data...)) != 0 {
		return nil, ErrInvalidChecksum
	}

	payload, err := convertBits(data[:len(data)-8], 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errors.New("cashaddr: empty payload")
	}
	version := payload[0]
	if version&0x80 != 0 {
		return nil, errors.New("cashaddr: reserved version bit set")
	}
	t := AddrType(version >> 3 & 0x0f)
	if t > P2SHWithTokens {
		return nil, ErrUnknownType
	}
	hash := payload[1:]
	if len(hash) != sizeBytes[version&0x07] {
		return nil, ErrInvalidLength
	}
	return &Address{Prefix: prefix, Type: t, Hash: hash}, nil
}

// String re-encodes the address.
func (a *Address) String() string {
	s, err := Encode(a.Prefix, a.Type, a.Hash)
	if err != nil {
		return ""
	}
	return s
}

func (a *Address) IsScriptHash() bool {
	return a.Type == P2SH || a.Type == P2SHWithTokens
}

func (a *Address) TokenAware() bool {
	return a.Type == P2PKHWithTokens || a.Type == P2SHWithTokens
}

// WithTokens returns a copy switched to or from the token-aware type.
func (a *Address) WithTokens(on bool) *Address {
	out := &Address{Prefix: a.Prefix, Hash: append([]byte(nil), a.Hash...)}
	switch {
	case a.IsScriptHash() && on:
		out.Type = P2SHWithTokens
	case a.IsScriptHash():
		out.Type = P2SH
	case on:
		out.Type = P2PKHWithTokens
	default:
		out.Type = P2PKH
	}
	return out
}

// LockingBytecode returns the output script paying to the address.
// Token awareness does not change the script.
func (a *Address) LockingBytecode() []byte {
	h := a.Hash
	if a.IsScriptHash() {
		if len(h) == 32 {
			out := []byte{0xaa, 0x20}
			out = append(out, h...)
			return append(out, 0x87)
		}
		out := []byte{0xa9, byte(len(h))}
		out = append(out, h...)
		return append(out, 0x87)
	}
	out := []byte{0x76, 0xa9, byte(len(h))}
	out = append(out, h...)
	return append(out, 0x88, 0xac)
}

// ScriptHash returns the Electrum protocol script hash: the sha256 of the
// locking bytecode, byte-reversed, hex encoded.
func (a *Address) ScriptHash() string {
	return ScriptHashOf(a.LockingBytecode())
}

// ScriptHashOf computes the Electrum script hash of arbitrary bytecode.
func ScriptHashOf(lockingBytecode []byte) string {
	sum := sha256.Sum256(lockingBytecode)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return hex.EncodeToString(sum[:])
}

func prefixData(prefix string) []byte {
	out := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		out = append(out, prefix[i]&0x1f)
	}
	return append(out, 0)
}

func createChecksum(prefix string, data []byte) []byte {
	values := append(prefixData(prefix), data...)
	values = append(values, make([]byte, 8)...)
	mod := polymod(values)
	out := make([]byte, 8)
	for i := range out {
		out[i] = byte((mod >> (5 * (7 - i))) & 0x1f)
	}
	return out
}

func polymod(values []byte) uint64 {
	c := uint64(1)
	for _, d := range values {
		c0 := byte(c >> 35)
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)
		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}

func convertBits(data []byte, from, to uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1)<<to - 1
	out := make([]byte, 0, len(data)*int(from)/int(to)+1)
	for _, v := range data {
		if uint32(v)>>from != 0 {
			return nil, errors.New("cashaddr: invalid data range")
		}
		acc = acc<<from | uint32(v)
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(to-bits)&maxv))
		}
	} else if bits >= from || acc<<(to-bits)&maxv != 0 {
		return nil, errors.New("cashaddr: invalid padding")
	}
	return out, nil
}
