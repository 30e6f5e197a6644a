package token

import (
	"context"
	"crypto/ed25519"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/storage"
	"solana-token-vesting/internal/storage/memory"
)

func testKey(t *testing.T, b byte) solana.PublicKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = b
	pk, err := solana.PublicKeyFromEd25519(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return pk
}

type fixture struct {
	ledger  *memory.Ledger
	program *Program
	mint    solana.PublicKey
	issuer  solana.PublicKey
	alice   solana.PublicKey
	bob     solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  memory.NewLedger(),
		program: NewProgram(),
		mint:    testKey(t, 1),
		issuer:  testKey(t, 2),
		alice:   testKey(t, 3),
		bob:     testKey(t, 4),
	}

	ctx := context.Background()
	err := f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := f.program.InitializeMint(ctx, tx, f.mint, 6, f.issuer); err != nil {
			return err
		}
		acc, err := f.program.EnsureAssociatedAccount(ctx, tx, f.alice, f.mint)
		if err != nil {
			return err
		}
		return f.program.MintTo(ctx, tx, f.mint, acc.Address, Wallet(f.issuer), 1_000)
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) ata(t *testing.T, owner solana.PublicKey) string {
	t.Helper()
	addr, err := solana.FindAssociatedTokenAddress(owner, f.mint)
	require.NoError(t, err)
	return addr.String()
}

func (f *fixture) balance(t *testing.T, address string) uint64 {
	t.Helper()
	acc, err := f.ledger.GetAccount(context.Background(), address)
	require.NoError(t, err)
	return acc.Amount
}

func TestMintTo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, uint64(1_000), f.balance(t, f.ata(t, f.alice)))

	m, err := f.ledger.GetMint(ctx, f.mint.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), m.Supply)
	assert.Equal(t, uint8(6), m.Decimals)

	err = f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		return f.program.MintTo(ctx, tx, f.mint, f.ata(t, f.alice), Wallet(f.alice), 1)
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		return f.program.MintTo(ctx, tx, f.mint, f.ata(t, f.alice), Wallet(f.issuer), math.MaxUint64)
	})
	assert.ErrorIs(t, err, ErrSupplyOverflow)

	err = f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		return f.program.MintTo(ctx, tx, testKey(t, 9), f.ata(t, f.alice), Wallet(f.issuer), 1)
	})
	assert.ErrorIs(t, err, ErrMintNotFound)
}

func TestInitializeMint_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		_, err := f.program.InitializeMint(ctx, tx, f.mint, 9, f.issuer)
		return err
	})
	assert.ErrorIs(t, err, ErrMintExists)
}

func TestTransfer_Wallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		to, err := f.program.EnsureAssociatedAccount(ctx, tx, f.bob, f.mint)
		if err != nil {
			return err
		}
		return f.program.Transfer(ctx, tx, TransferParams{
			From:      f.ata(t, f.alice),
			To:        to.Address,
			Authority: Wallet(f.alice),
			Amount:    400,
		})
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(600), f.balance(t, f.ata(t, f.alice)))
	assert.Equal(t, uint64(400), f.balance(t, f.ata(t, f.bob)))
}

func TestTransfer_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherMint := testKey(t, 7)
	require.NoError(t, f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := f.program.InitializeMint(ctx, tx, otherMint, 0, f.issuer); err != nil {
			return err
		}
		if _, err := f.program.EnsureAssociatedAccount(ctx, tx, f.bob, otherMint); err != nil {
			return err
		}
		_, err := f.program.EnsureAssociatedAccount(ctx, tx, f.bob, f.mint)
		return err
	}))
	bobOther, err := solana.FindAssociatedTokenAddress(f.bob, otherMint)
	require.NoError(t, err)

	tests := []struct {
		name    string
		params  TransferParams
		wantErr error
	}{
		{
			name:    "zero amount",
			params:  TransferParams{From: f.ata(t, f.alice), To: f.ata(t, f.bob), Authority: Wallet(f.alice)},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "wrong signer",
			params:  TransferParams{From: f.ata(t, f.alice), To: f.ata(t, f.bob), Authority: Wallet(f.bob), Amount: 1},
			wantErr: ErrUnauthorized,
		},
		{
			name:    "insufficient funds",
			params:  TransferParams{From: f.ata(t, f.alice), To: f.ata(t, f.bob), Authority: Wallet(f.alice), Amount: 1_001},
			wantErr: ErrInsufficientFunds,
		},
		{
			name:    "mint mismatch",
			params:  TransferParams{From: f.ata(t, f.alice), To: bobOther.String(), Authority: Wallet(f.alice), Amount: 1},
			wantErr: ErrMintMismatch,
		},
		{
			name:    "missing destination",
			params:  TransferParams{From: f.ata(t, f.alice), To: testKey(t, 8).String(), Authority: Wallet(f.alice), Amount: 1},
			wantErr: ErrAccountNotFound,
		},
		{
			name:    "no authority",
			params:  TransferParams{From: f.ata(t, f.alice), To: f.ata(t, f.bob), Amount: 1},
			wantErr: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ledger.Atomic(ctx, func(tx storage.Tx) error {
				return f.program.Transfer(ctx, tx, tt.params)
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, uint64(1_000), f.balance(t, f.ata(t, f.alice)))
}

func TestTransfer_CustodyAuthority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deriver, err := custody.NewDeriver(solana.MustPublicKey(solana.TokenProgramID), custody.ScopeMint)
	require.NoError(t, err)
	vault, err := deriver.Vault(f.mint, f.bob)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := f.program.EnsureAccount(ctx, tx, vault.Address, f.mint, vault.Address); err != nil {
			return err
		}
		return f.program.Transfer(ctx, tx, TransferParams{
			From: f.ata(t, f.alice), To: vault.Address.String(), Authority: Wallet(f.alice), Amount: 500,
		})
	}))

	// Out of custody with the derived authority.
	require.NoError(t, f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		to, err := f.program.EnsureAssociatedAccount(ctx, tx, f.bob, f.mint)
		if err != nil {
			return err
		}
		return f.program.Transfer(ctx, tx, TransferParams{
			From: vault.Address.String(), To: to.Address, Authority: vault, Amount: 200,
		})
	}))
	assert.Equal(t, uint64(300), f.balance(t, vault.Address.String()))
	assert.Equal(t, uint64(200), f.balance(t, f.ata(t, f.bob)))

	// A tampered bump no longer re-derives the owner.
	forged := vault
	forged.Bump--
	err = f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		return f.program.Transfer(ctx, tx, TransferParams{
			From: vault.Address.String(), To: f.ata(t, f.bob), Authority: forged, Amount: 1,
		})
	})
	assert.ErrorIs(t, err, custody.ErrAuthorityMismatch)

	// The depositor's wallet cannot drain custody.
	err = f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		return f.program.Transfer(ctx, tx, TransferParams{
			From: vault.Address.String(), To: f.ata(t, f.alice), Authority: Wallet(f.alice), Amount: 1,
		})
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEnsureAccount_Mismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ledger.Atomic(ctx, func(tx storage.Tx) error {
		addr, err := solana.ParsePublicKey(f.ata(t, f.alice))
		if err != nil {
			return err
		}
		_, err = f.program.EnsureAccount(ctx, tx, addr, f.mint, f.bob)
		return err
	})
	assert.ErrorIs(t, err, ErrAccountMismatch)
}
