package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// RegisterAllowedRfqOrigins lets caller's RFQ orders be filled from the given
// transaction origins, or revokes them when allowed is false.
func (e *Engine) RegisterAllowedRfqOrigins(ctx context.Context, caller common.Address, origins []common.Address, allowed bool) error {
	if caller == (common.Address{}) {
		return fmt.Errorf("settlement: register rfq origins: %w: caller is required", ErrInvalidParams)
	}

	ctx, unlock, err := e.lock(ctx, originsLockKey(caller))
	if err != nil {
		return fmt.Errorf("settlement: register rfq origins: %w", err)
	}
	defer unlock()

	err = e.state.Atomic(ctx, func(tx domain.OrderStateTx) error {
		for _, origin := range origins {
			if err := tx.SetOriginAllowed(ctx, caller, origin, allowed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("settlement: register rfq origins: %w", err)
	}

	e.logger.Info("rfq origins updated",
		slog.String("maker", caller.Hex()),
		slog.Int("origins", len(origins)),
		slog.Bool("allowed", allowed),
	)
	e.emit(ctx, domain.RfqOrderOriginsAllowed{
		Maker:   caller,
		Origins: append([]common.Address{}, origins...),
		Allowed: allowed,
	})
	return nil
}

// RegisterAllowedOrderSigner lets signer sign and cancel orders on behalf of
// caller, or revokes it.
func (e *Engine) RegisterAllowedOrderSigner(ctx context.Context, caller, signer common.Address, allowed bool) error {
	if caller == (common.Address{}) || signer == (common.Address{}) {
		return fmt.Errorf("settlement: register order signer: %w: caller and signer are required", ErrInvalidParams)
	}

	ctx, unlock, err := e.lock(ctx, signersLockKey(caller))
	if err != nil {
		return fmt.Errorf("settlement: register order signer: %w", err)
	}
	defer unlock()

	err = e.state.Atomic(ctx, func(tx domain.OrderStateTx) error {
		return tx.SetOrderSignerAllowed(ctx, caller, signer, allowed)
	})
	if err != nil {
		return fmt.Errorf("settlement: register order signer: %w", err)
	}

	e.logger.Info("order signer updated",
		slog.String("maker", caller.Hex()),
		slog.String("signer", signer.Hex()),
		slog.Bool("allowed", allowed),
	)
	e.emit(ctx, domain.OrderSignerRegistrationUpdated{Maker: caller, Signer: signer, Allowed: allowed})
	return nil
}
