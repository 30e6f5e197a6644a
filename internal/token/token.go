// Package token implements a minimal SPL-style token program over a
// storage.Tx: mints, token accounts, issuance and authority-checked transfers.
package token

import (
	"context"
	"errors"
	"fmt"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/storage"
)

// Token program errors.
var (
	ErrMintNotFound      = errors.New("mint not found")
	ErrMintExists        = errors.New("mint already exists")
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountMismatch   = errors.New("token account belongs to a different mint or owner")
	ErrMintMismatch      = errors.New("source and destination mints differ")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("signer does not own the account")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrSupplyOverflow    = errors.New("supply overflow")
)

// Authority proves the right to move funds out of an account owned by owner.
type Authority interface {
	Authorize(owner solana.PublicKey) error
}

// Wallet is an authority backed by an authenticated wallet signature.
type Wallet solana.PublicKey

// Authorize succeeds when the wallet is the owner.
func (w Wallet) Authorize(owner solana.PublicKey) error {
	if solana.PublicKey(w) != owner {
		return fmt.Errorf("%w: signer %s, owner %s", ErrUnauthorized, solana.PublicKey(w), owner)
	}
	return nil
}

// TransferParams describes a single transfer.
type TransferParams struct {
	From      string // source token account address
	To        string // destination token account address
	Authority Authority
	Amount    uint64
}

// Program executes token instructions inside the caller's transaction.
type Program struct{}

// NewProgram creates a token program.
func NewProgram() *Program {
	return &Program{}
}

// InitializeMint creates a mint with zero supply.
func (p *Program) InitializeMint(ctx context.Context, tx storage.AccountTx, mint solana.PublicKey, decimals uint8, authority solana.PublicKey) (*domain.Mint, error) {
	m := &domain.Mint{
		Address:       mint.String(),
		Decimals:      decimals,
		MintAuthority: authority.String(),
	}
	if err := tx.InsertMint(ctx, m); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %s", ErrMintExists, m.Address)
		}
		return nil, fmt.Errorf("initialize mint: %w", err)
	}
	return m, nil
}

// MintTo issues amount new units into dest. The signer must be the mint authority.
func (p *Program) MintTo(ctx context.Context, tx storage.AccountTx, mint solana.PublicKey, dest string, signer Authority, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	m, err := p.GetMint(ctx, tx, mint)
	if err != nil {
		return err
	}
	mintAuthority, err := solana.ParsePublicKey(m.MintAuthority)
	if err != nil {
		return fmt.Errorf("mint authority: %w", err)
	}
	if err := signer.Authorize(mintAuthority); err != nil {
		return err
	}

	acc, err := getAccount(ctx, tx, dest)
	if err != nil {
		return err
	}
	if acc.Mint != m.Address {
		return fmt.Errorf("%w: account %s holds %s", ErrMintMismatch, dest, acc.Mint)
	}

	if err := tx.AddSupply(ctx, m.Address, amount); err != nil {
		if errors.Is(err, storage.ErrOverflow) {
			return ErrSupplyOverflow
		}
		return fmt.Errorf("add supply: %w", err)
	}
	if err := tx.Credit(ctx, dest, amount); err != nil {
		return fmt.Errorf("credit %s: %w", dest, err)
	}
	return nil
}

// GetMint loads a mint. Returns ErrMintNotFound if not exists.
func (p *Program) GetMint(ctx context.Context, tx storage.AccountTx, mint solana.PublicKey) (*domain.Mint, error) {
	m, err := tx.GetMint(ctx, mint.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
		}
		return nil, fmt.Errorf("get mint: %w", err)
	}
	return m, nil
}

// EnsureAccount returns the token account at address, creating it with a
// zero balance if absent. An existing account must match mint and owner.
func (p *Program) EnsureAccount(ctx context.Context, tx storage.AccountTx, address, mint, owner solana.PublicKey) (*domain.TokenAccount, error) {
	if _, err := p.GetMint(ctx, tx, mint); err != nil {
		return nil, err
	}

	err := tx.InsertAccountIfAbsent(ctx, &domain.TokenAccount{
		Address: address.String(),
		Mint:    mint.String(),
		Owner:   owner.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("create token account: %w", err)
	}

	acc, err := getAccount(ctx, tx, address.String())
	if err != nil {
		return nil, err
	}
	if acc.Mint != mint.String() || acc.Owner != owner.String() {
		return nil, fmt.Errorf("%w: %s", ErrAccountMismatch, address)
	}
	return acc, nil
}

// EnsureAssociatedAccount returns owner's associated token account for mint,
// creating it on first use.
func (p *Program) EnsureAssociatedAccount(ctx context.Context, tx storage.AccountTx, owner, mint solana.PublicKey) (*domain.TokenAccount, error) {
	address, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive associated token address: %w", err)
	}
	return p.EnsureAccount(ctx, tx, address, mint, owner)
}

// Transfer moves Amount from one account to another of the same mint.
// The authority must prove ownership of the source account.
func (p *Program) Transfer(ctx context.Context, tx storage.AccountTx, params TransferParams) error {
	if params.Amount == 0 {
		return ErrInvalidAmount
	}
	if params.Authority == nil {
		return ErrUnauthorized
	}

	from, err := getAccount(ctx, tx, params.From)
	if err != nil {
		return err
	}
	to, err := getAccount(ctx, tx, params.To)
	if err != nil {
		return err
	}
	if from.Mint != to.Mint {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, from.Mint, to.Mint)
	}

	owner, err := solana.ParsePublicKey(from.Owner)
	if err != nil {
		return fmt.Errorf("source owner: %w", err)
	}
	if err := params.Authority.Authorize(owner); err != nil {
		return err
	}

	if from.Amount < params.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, from.Amount, params.Amount)
	}

	if err := tx.Debit(ctx, params.From, params.Amount); err != nil {
		if errors.Is(err, storage.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return fmt.Errorf("debit %s: %w", params.From, err)
	}
	if err := tx.Credit(ctx, params.To, params.Amount); err != nil {
		return fmt.Errorf("credit %s: %w", params.To, err)
	}
	return nil
}

func getAccount(ctx context.Context, tx storage.AccountTx, address string) (*domain.TokenAccount, error) {
	acc, err := tx.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("get token account: %w", err)
	}
	return acc, nil
}
