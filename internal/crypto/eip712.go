package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// Default signing domain of the settlement contract.
const (
	DefaultDomainName    = "ZeroEx"
	DefaultDomainVersion = "1.0.0"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

const (
	eip712DomainType = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"

	// LimitOrderType is the canonical type declaration of a limit order.
	// Field order is part of the hash.
	LimitOrderType = "LimitOrder(" +
		"address makerToken," +
		"address takerToken," +
		"uint128 makerAmount," +
		"uint128 takerAmount," +
		"uint128 takerTokenFeeAmount," +
		"address maker," +
		"address taker," +
		"address sender," +
		"address feeRecipient," +
		"bytes32 pool," +
		"uint64 expiry," +
		"uint256 salt)"

	// RfqOrderType is the canonical type declaration of an RFQ order.
	RfqOrderType = "RfqOrder(" +
		"address makerToken," +
		"address takerToken," +
		"uint128 makerAmount," +
		"uint128 takerAmount," +
		"address maker," +
		"address taker," +
		"address txOrigin," +
		"bytes32 pool," +
		"uint64 expiry," +
		"uint256 salt)"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256Hash([]byte(eip712DomainType))
	limitOrderTypeHash   = ethcrypto.Keccak256Hash([]byte(LimitOrderType))
	rfqOrderTypeHash     = ethcrypto.Keccak256Hash([]byte(RfqOrderType))
)

// Domain is the EIP-712 signing domain. It must be byte-identical on the
// signing and verifying sides.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain returns the default-named domain for a chain and contract.
func NewDomain(chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              DefaultDomainName,
		Version:           DefaultDomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// ForOrder returns d with the chain id and verifying contract the order
// carries, when it carries them.
func (d Domain) ForOrder(o domain.Order) Domain {
	if o == nil {
		return d
	}
	f := o.Common()
	if f.ChainID != nil && f.ChainID.Sign() != 0 {
		d.ChainID = new(big.Int).Set(f.ChainID)
	}
	if f.VerifyingContract != (common.Address{}) {
		d.VerifyingContract = f.VerifyingContract
	}
	return d
}

// Separator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func (d Domain) Separator() common.Hash {
	return DomainHash(d.Name, d.Version, d.ChainID, d.VerifyingContract)
}

// DomainHash computes the EIP-712 domain separator.
func DomainHash(name, version string, chainID *big.Int, verifyingContract common.Address) common.Hash {
	if chainID == nil {
		chainID = new(big.Int)
	}
	return ethcrypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		common.BigToHash(chainID).Bytes(),
		common.LeftPadBytes(verifyingContract.Bytes(), 32),
	)
}

// FinalHash computes the EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func FinalHash(domainSeparator, structHash common.Hash) common.Hash {
	return ethcrypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domainSeparator.Bytes(),
		structHash.Bytes(),
	)
}

// StructHash hashes an order's typed fields. Orders whose fields do not fit
// their signed widths are rejected with domain.ErrInvalidOrder.
func StructHash(o domain.Order) (common.Hash, error) {
	if o == nil {
		return common.Hash{}, fmt.Errorf("%w: nil order", domain.ErrInvalidOrder)
	}
	if err := o.Validate(); err != nil {
		return common.Hash{}, err
	}

	switch v := o.(type) {
	case domain.LimitOrder:
		return limitOrderStructHash(v), nil
	case *domain.LimitOrder:
		return limitOrderStructHash(*v), nil
	case domain.RfqOrder:
		return rfqOrderStructHash(v), nil
	case *domain.RfqOrder:
		return rfqOrderStructHash(*v), nil
	default:
		return common.Hash{}, fmt.Errorf("%w: unsupported order kind %s", domain.ErrInvalidOrder, o.Kind())
	}
}

func limitOrderStructHash(o domain.LimitOrder) common.Hash {
	return ethcrypto.Keccak256Hash(
		limitOrderTypeHash.Bytes(),
		addressWord(o.MakerToken),
		addressWord(o.TakerToken),
		uintWord(o.MakerAmount),
		uintWord(o.TakerAmount),
		uintWord(o.TakerTokenFeeAmount),
		addressWord(o.Maker),
		addressWord(o.Taker),
		addressWord(o.Sender),
		addressWord(o.FeeRecipient),
		o.Pool.Bytes(),
		uintWord(new(big.Int).SetUint64(o.Expiry)),
		uintWord(o.Salt),
	)
}

func rfqOrderStructHash(o domain.RfqOrder) common.Hash {
	return ethcrypto.Keccak256Hash(
		rfqOrderTypeHash.Bytes(),
		addressWord(o.MakerToken),
		addressWord(o.TakerToken),
		uintWord(o.MakerAmount),
		uintWord(o.TakerAmount),
		addressWord(o.Maker),
		addressWord(o.Taker),
		addressWord(o.TxOrigin),
		o.Pool.Bytes(),
		uintWord(new(big.Int).SetUint64(o.Expiry)),
		uintWord(o.Salt),
	)
}

// Hasher computes order hashes for one deployment domain. The domain
// separator is computed once.
type Hasher struct {
	domain    Domain
	separator common.Hash
}

// NewHasher creates a Hasher bound to d.
func NewHasher(d Domain) *Hasher {
	return &Hasher{domain: d, separator: d.Separator()}
}

// Domain returns the signing domain.
func (h *Hasher) Domain() Domain {
	return h.domain
}

// CheckDomain rejects an order that names a chain or verifying contract other
// than this hasher's. Unset fields are taken to mean this domain.
func (h *Hasher) CheckDomain(o domain.Order) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", domain.ErrInvalidOrder)
	}
	f := o.Common()
	if f.ChainID != nil && f.ChainID.Sign() != 0 && (h.domain.ChainID == nil || f.ChainID.Cmp(h.domain.ChainID) != 0) {
		return fmt.Errorf("%w: chain id %s, want %s", domain.ErrInvalidOrder, f.ChainID, h.domain.ChainID)
	}
	if f.VerifyingContract != (common.Address{}) && f.VerifyingContract != h.domain.VerifyingContract {
		return fmt.Errorf("%w: verifying contract %s, want %s", domain.ErrInvalidOrder, f.VerifyingContract.Hex(), h.domain.VerifyingContract.Hex())
	}
	return nil
}

// DomainSeparator returns the cached domain separator.
func (h *Hasher) DomainSeparator() common.Hash {
	return h.separator
}

// OrderHash returns the EIP-712 digest identifying o.
func (h *Hasher) OrderHash(o domain.Order) (common.Hash, error) {
	sh, err := StructHash(o)
	if err != nil {
		return common.Hash{}, err
	}
	return FinalHash(h.separator, sh), nil
}

// addressWord left-pads an address to a 32-byte slot.
func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// uintWord returns a 32-byte big-endian slot for n; nil encodes as zero.
// Callers validate widths before encoding.
func uintWord(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	return common.BigToHash(n).Bytes()
}
