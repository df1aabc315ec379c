package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// OrderSigner signs native orders on behalf of a maker or one of its
// registered signers.
type OrderSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	hasher     *Hasher
}

// NewOrderSigner creates an OrderSigner for key bound to the signing domain d.
func NewOrderSigner(key *ecdsa.PrivateKey, d Domain) *OrderSigner {
	return &OrderSigner{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		hasher:     NewHasher(d),
	}
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *OrderSigner) Address() common.Address {
	return s.address
}

// Hasher returns the hasher used for signing.
func (s *OrderSigner) Hasher() *Hasher {
	return s.hasher
}

// SignOrder hashes o and signs the digest with the requested signature type.
func (s *OrderSigner) SignOrder(o domain.Order, t domain.SignatureType) (common.Hash, domain.Signature, error) {
	hash, err := s.hasher.OrderHash(o)
	if err != nil {
		return common.Hash{}, domain.Signature{}, err
	}
	sig, err := s.SignHash(hash, t)
	if err != nil {
		return common.Hash{}, domain.Signature{}, err
	}
	return hash, sig, nil
}

// SignHash signs an order hash. EthSign signatures cover the
// "\x19Ethereum Signed Message:\n32" prefixed hash.
func (s *OrderSigner) SignHash(hash common.Hash, t domain.SignatureType) (domain.Signature, error) {
	var digest []byte
	switch t {
	case domain.SignatureTypeEIP712:
		digest = hash.Bytes()
	case domain.SignatureTypeEthSign:
		digest = accounts.TextHash(hash.Bytes())
	default:
		return domain.Signature{}, fmt.Errorf("crypto/signer: cannot sign with type %s", t)
	}
	return s.signDigest(t, digest)
}

// signDigest signs a 32-byte digest using secp256k1.
func (s *OrderSigner) signDigest(t domain.SignatureType, digest []byte) (domain.Signature, error) {
	raw, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; orders carry v in {27,28}.
	return domain.SignatureFromBytes(t, raw)
}
