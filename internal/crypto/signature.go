package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// Recovery failures. All of them match domain.ErrInvalidSignature.
var (
	ErrSignatureTypeIllegal     = fmt.Errorf("%w: illegal signature type", domain.ErrInvalidSignature)
	ErrSignatureTypeInvalid     = fmt.Errorf("%w: signature type marked invalid", domain.ErrInvalidSignature)
	ErrSignatureTypeUnsupported = fmt.Errorf("%w: unsupported signature type", domain.ErrInvalidSignature)
	ErrSignatureV               = fmt.Errorf("%w: v must be 27 or 28", domain.ErrInvalidSignature)
	ErrSignatureValues          = fmt.Errorf("%w: r or s out of range", domain.ErrInvalidSignature)
	ErrSignatureRecovery        = fmt.Errorf("%w: public key recovery failed", domain.ErrInvalidSignature)
)

// Recover returns the address that produced sig over hash.
//
// EIP712 signatures are checked against the hash itself. EthSign signatures
// are checked against the "\x19Ethereum Signed Message:\n32" prefixed hash.
func Recover(hash common.Hash, sig domain.Signature) (common.Address, error) {
	var digest []byte
	switch sig.Type {
	case domain.SignatureTypeIllegal:
		return common.Address{}, ErrSignatureTypeIllegal
	case domain.SignatureTypeInvalid:
		return common.Address{}, ErrSignatureTypeInvalid
	case domain.SignatureTypeEIP712:
		digest = hash.Bytes()
	case domain.SignatureTypeEthSign:
		digest = accounts.TextHash(hash.Bytes())
	default:
		return common.Address{}, fmt.Errorf("%w: %d", ErrSignatureTypeUnsupported, uint8(sig.Type))
	}

	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("%w: got %d", ErrSignatureV, sig.V)
	}
	recID := sig.V - 27

	// High-s values are accepted, matching ecrecover.
	r := new(big.Int).SetBytes(sig.R.Bytes())
	s := new(big.Int).SetBytes(sig.S.Bytes())
	if !ethcrypto.ValidateSignatureValues(recID, r, s, false) {
		return common.Address{}, ErrSignatureValues
	}

	raw := make([]byte, 65)
	copy(raw[:32], sig.R.Bytes())
	copy(raw[32:64], sig.S.Bytes())
	raw[64] = recID

	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSignatureRecovery, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over hash recovers to expected.
func Verify(hash common.Hash, sig domain.Signature, expected common.Address) bool {
	signer, err := Recover(hash, sig)
	if err != nil {
		return false
	}
	return signer == expected
}
