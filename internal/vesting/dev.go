package vesting

import (
	"context"
	"fmt"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/storage"
	"solana-token-vesting/internal/token"
)

// CreateMint initializes a new mint with zero supply. Used by local
// deployments that have no external token program.
func (e *Engine) CreateMint(ctx context.Context, mint solana.PublicKey, decimals uint8, authority solana.PublicKey) (*domain.Mint, error) {
	if mint.IsZero() || authority.IsZero() {
		return nil, ErrInvalidAddress
	}

	var m *domain.Mint
	err := e.atomic(ctx, "create_mint", func(tx storage.Tx) error {
		var err error
		m, err = e.program.InitializeMint(ctx, tx, mint, decimals, authority)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Printf("created mint %s (decimals %d, authority %s)", mint, decimals, authority)
	return m, nil
}

// MintTo issues amount to owner's associated token account, creating it on
// first use. signer must be the mint authority.
func (e *Engine) MintTo(ctx context.Context, signer, mint, owner solana.PublicKey, amount uint64) (*domain.TokenAccount, error) {
	if mint.IsZero() || owner.IsZero() {
		return nil, ErrInvalidAddress
	}

	var acc *domain.TokenAccount
	err := e.atomic(ctx, "mint_to", func(tx storage.Tx) error {
		dest, err := e.program.EnsureAssociatedAccount(ctx, tx, owner, mint)
		if err != nil {
			return err
		}
		if err := e.program.MintTo(ctx, tx, mint, dest.Address, token.Wallet(signer), amount); err != nil {
			return err
		}
		acc, err = tx.GetAccount(ctx, dest.Address)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mint to %s: %w", owner, err)
	}
	return acc, nil
}
