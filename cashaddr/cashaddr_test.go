package cashaddr

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const (
	knownP2PKH = "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"
	knownP2SH  = "bitcoincash:ppm2qsznhks23z7629mms6s4cwef74vcwvn0h829pq"
	knownHash  = "76a04053bda0a88bda5177b86a15c3b29f559873"
)

func TestEncodeKnownVectors(t *testing.T) {
	hash, _ := hex.DecodeString(knownHash)

	t.Run("p2pkh", func(t *testing.T) {
		got, err := Encode("bitcoincash", P2PKH, hash)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if got != knownP2PKH {
			t.Fatalf("expected %s, got %s", knownP2PKH, got)
		}
	})

	t.Run("p2sh", func(t *testing.T) {
		got, err := Encode("bitcoincash", P2SH, hash)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if got != knownP2SH {
			t.Fatalf("expected %s, got %s", knownP2SH, got)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("with_prefix", func(t *testing.T) {
		addr, err := Decode(knownP2PKH, "")
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if addr.Type != P2PKH || addr.Prefix != "bitcoincash" {
			t.Fatalf("unexpected address %+v", addr)
		}
		if hex.EncodeToString(addr.Hash) != knownHash {
			t.Fatalf("unexpected hash %x", addr.Hash)
		}
	})

	t.Run("default_prefix", func(t *testing.T) {
		addr, err := Decode(strings.TrimPrefix(knownP2SH, "bitcoincash:"), "bitcoincash")
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !addr.IsScriptHash() {
			t.Fatalf("expected script hash, got %s", addr.Type)
		}
	})

	t.Run("upper_case", func(t *testing.T) {
		if _, err := Decode(strings.ToUpper(knownP2PKH), ""); err != nil {
			t.Fatalf("decode upper case: %v", err)
		}
	})

	t.Run("mixed_case", func(t *testing.T) {
		mixed := "bitcoincash:Qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"
		if _, err := Decode(mixed, ""); !errors.Is(err, ErrMixedCase) {
			t.Fatalf("expected ErrMixedCase, got %v", err)
		}
	})

	t.Run("bad_checksum", func(t *testing.T) {
		bad := knownP2PKH[:len(knownP2PKH)-1] + "q"
		if _, err := Decode(bad, ""); !errors.Is(err, ErrInvalidChecksum) {
			t.Fatalf("expected ErrInvalidChecksum, got %v", err)
		}
	})

	t.Run("wrong_prefix", func(t *testing.T) {
		body := strings.TrimPrefix(knownP2PKH, "bitcoincash:")
		if _, err := Decode("bchtest:"+body, ""); err == nil {
			t.Fatalf("expected checksum failure under another prefix")
		}
	})
}

func TestRoundTrip(t *testing.T) {
	hash32 := bytes.Repeat([]byte{0xab}, 32)
	hash20 := bytes.Repeat([]byte{0x01}, 20)
	cases := []struct {
		prefix string
		typ    AddrType
		hash   []byte
	}{
		{"bitcoincash", P2PKH, hash20},
		{"bchtest", P2SH, hash20},
		{"bchreg", P2PKHWithTokens, hash20},
		{"bitcoincash", P2SHWithTokens, hash32},
		{"bitcoincash", P2SH, hash32},
	}
	for _, tc := range cases {
		t.Run(tc.prefix+"_"+tc.typ.String(), func(t *testing.T) {
			s, err := Encode(tc.prefix, tc.typ, tc.hash)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			addr, err := Decode(s, "")
			if err != nil {
				t.Fatalf("decode %s: %v", s, err)
			}
			if addr.Type != tc.typ || !bytes.Equal(addr.Hash, tc.hash) || addr.Prefix != tc.prefix {
				t.Fatalf("round trip mismatch: %+v", addr)
			}
			if addr.String() != s {
				t.Fatalf("String() mismatch: %s vs %s", addr.String(), s)
			}
		})
	}
}

func TestWithTokens(t *testing.T) {
	addr, err := Decode(knownP2PKH, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tok := addr.WithTokens(true)
	if !tok.TokenAware() || tok.Type != P2PKHWithTokens {
		t.Fatalf("expected token-aware p2pkh, got %s", tok.Type)
	}
	if !strings.HasPrefix(tok.String(), "bitcoincash:z") {
		t.Fatalf("token-aware p2pkh should start with z, got %s", tok.String())
	}
	if !bytes.Equal(tok.LockingBytecode(), addr.LockingBytecode()) {
		t.Fatalf("token awareness must not change the locking bytecode")
	}
	if back := tok.WithTokens(false); back.String() != knownP2PKH {
		t.Fatalf("expected %s, got %s", knownP2PKH, back.String())
	}
}

func TestLockingBytecode(t *testing.T) {
	addr, _ := Decode(knownP2PKH, "")
	want := "76a914" + knownHash + "88ac"
	if got := hex.EncodeToString(addr.LockingBytecode()); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	p2sh, _ := Decode(knownP2SH, "")
	want = "a914" + knownHash + "87"
	if got := hex.EncodeToString(p2sh.LockingBytecode()); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	p2sh32 := &Address{Prefix: "bitcoincash", Type: P2SH, Hash: bytes.Repeat([]byte{0x11}, 32)}
	if got := hex.EncodeToString(p2sh32.LockingBytecode()); !strings.HasPrefix(got, "aa20") || !strings.HasSuffix(got, "87") {
		t.Fatalf("unexpected p2sh32 bytecode %s", got)
	}
}

func TestScriptHash(t *testing.T) {
	addr, _ := Decode(knownP2PKH, "")
	sh := addr.ScriptHash()
	if len(sh) != 64 {
		t.Fatalf("expected 32-byte hex script hash, got %q", sh)
	}
	if sh != ScriptHashOf(addr.WithTokens(true).LockingBytecode()) {
		t.Fatalf("token-aware address must share the script hash")
	}
}
