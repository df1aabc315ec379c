package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SignatureType tags how a signature was produced.
type SignatureType uint8

const (
	SignatureTypeIllegal SignatureType = iota
	SignatureTypeInvalid
	SignatureTypeEIP712
	SignatureTypeEthSign
)

func (t SignatureType) String() string {
	switch t {
	case SignatureTypeIllegal:
		return "illegal"
	case SignatureTypeInvalid:
		return "invalid"
	case SignatureTypeEIP712:
		return "eip712"
	case SignatureTypeEthSign:
		return "ethsign"
	default:
		return fmt.Sprintf("sigtype(%d)", uint8(t))
	}
}

// Signature is a secp256k1 signature over an order hash. V is 27 or 28.
type Signature struct {
	Type SignatureType `json:"signatureType"`
	V    uint8         `json:"v"`
	R    common.Hash   `json:"r"`
	S    common.Hash   `json:"s"`
}

// Bytes returns the 65-byte r || s || v encoding.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// SignatureFromBytes splits a 65-byte r || s || v signature. V values of 0
// or 1 are normalised to 27 or 28.
func SignatureFromBytes(t SignatureType, b []byte) (Signature, error) {
	if len(b) != 65 {
		return Signature{}, fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidSignature, len(b))
	}
	sig := Signature{Type: t, V: b[64]}
	copy(sig.R[:], b[0:32])
	copy(sig.S[:], b[32:64])
	if sig.V < 27 {
		sig.V += 27
	}
	return sig, nil
}
