package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLockHeld            = errors.New("lock already held")
	ErrReentrantCall       = errors.New("re-entrant call")
	ErrFillLimitExceeded   = errors.New("fill exceeds order taker amount")
)

// OrderNotFillableError is returned when an order's status is not Fillable.
type OrderNotFillableError struct {
	Hash   common.Hash
	Status OrderStatus
}

func (e *OrderNotFillableError) Error() string {
	return fmt.Sprintf("order %s not fillable: status %s", e.Hash.Hex(), e.Status)
}

// OrderNotFillableByTakerError is returned when the order names a taker and
// the caller's taker is someone else.
type OrderNotFillableByTakerError struct {
	Hash       common.Hash
	Taker      common.Address
	OrderTaker common.Address
}

func (e *OrderNotFillableByTakerError) Error() string {
	return fmt.Sprintf("order %s not fillable by taker %s (order taker %s)",
		e.Hash.Hex(), e.Taker.Hex(), e.OrderTaker.Hex())
}

// OrderNotFillableBySenderError is returned when a limit order names a sender
// and the caller is someone else.
type OrderNotFillableBySenderError struct {
	Hash        common.Hash
	Sender      common.Address
	OrderSender common.Address
}

func (e *OrderNotFillableBySenderError) Error() string {
	return fmt.Sprintf("order %s not fillable by sender %s (order sender %s)",
		e.Hash.Hex(), e.Sender.Hex(), e.OrderSender.Hex())
}

// OrderNotFillableByOriginError is returned when an RFQ order's tx origin is
// neither the caller's origin nor has the origin registered for the maker.
type OrderNotFillableByOriginError struct {
	Hash          common.Hash
	TxOrigin      common.Address
	OrderTxOrigin common.Address
}

func (e *OrderNotFillableByOriginError) Error() string {
	return fmt.Sprintf("order %s not fillable by origin %s (order origin %s)",
		e.Hash.Hex(), e.TxOrigin.Hex(), e.OrderTxOrigin.Hex())
}

// OrderNotSignedByMakerError is returned when the recovered signer is neither
// the maker nor one of its registered signers, or when recovery failed.
// Signer is the zero address when the signature could not be recovered.
type OrderNotSignedByMakerError struct {
	Hash   common.Hash
	Signer common.Address
	Maker  common.Address
	Cause  error
}

func (e *OrderNotSignedByMakerError) Error() string {
	msg := fmt.Sprintf("order %s not signed by maker %s (signer %s)",
		e.Hash.Hex(), e.Maker.Hex(), e.Signer.Hex())
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OrderNotSignedByMakerError) Unwrap() error { return e.Cause }

// OnlyOrderMakerAllowedError is returned when someone other than the maker or
// a registered signer tries to cancel an order.
type OnlyOrderMakerAllowedError struct {
	Hash   common.Hash
	Sender common.Address
	Maker  common.Address
}

func (e *OnlyOrderMakerAllowedError) Error() string {
	return fmt.Sprintf("only maker %s may cancel order %s (sender %s)",
		e.Maker.Hex(), e.Hash.Hex(), e.Sender.Hex())
}

// FillOrKillFailedError is returned by fill-or-kill fills that could not fill
// the full requested amount.
type FillOrKillFailedError struct {
	Hash               common.Hash
	TakerFilledAmount  *big.Int
	TakerFillRequested *big.Int
}

func (e *FillOrKillFailedError) Error() string {
	return fmt.Sprintf("fill-or-kill failed for order %s: filled %s of %s",
		e.Hash.Hex(), e.TakerFilledAmount, e.TakerFillRequested)
}

// CancelSaltTooLowError is returned when a pair cancellation would lower the
// stored minimum valid salt.
type CancelSaltTooLowError struct {
	MinValidSalt    *big.Int
	OldMinValidSalt *big.Int
}

func (e *CancelSaltTooLowError) Error() string {
	return fmt.Sprintf("cancel salt %s lower than current minimum %s", e.MinValidSalt, e.OldMinValidSalt)
}

// InvalidSignerError is returned when a caller acts on behalf of a maker
// without being registered as one of its signers.
type InvalidSignerError struct {
	Maker  common.Address
	Signer common.Address
}

func (e *InvalidSignerError) Error() string {
	return fmt.Sprintf("%s is not a registered signer of maker %s", e.Signer.Hex(), e.Maker.Hex())
}
