// Package custody derives the keyless authorities that control escrowed deposits.
//
// A custody authority is a program-derived address: sha256 of fixed public seeds,
// a bump discriminant and the program ID, forced off the ed25519 curve so no
// private key can exist for it. Transfers out of custody are authorized by
// presenting the seeds and bump again; the token program recomputes the address
// and compares it with the account owner.
package custody

import (
	"errors"
	"fmt"

	"solana-token-vesting/internal/solana"
)

// Seed prefixes.
const (
	VaultSeed     = "vault"
	VaultInfoSeed = "vault_info"
)

// Scope selects which inputs a custody authority is derived from.
type Scope string

const (
	// ScopeMint shares one custody account per mint across all receivers.
	ScopeMint Scope = "mint"
	// ScopeReceiver gives every (mint, receiver) pair its own custody account.
	ScopeReceiver Scope = "receiver"
)

// IsValid checks if the scope is a known value.
func (s Scope) IsValid() bool {
	return s == ScopeMint || s == ScopeReceiver
}

// ErrAuthorityMismatch is returned when presented seeds do not re-derive the claimed address.
var ErrAuthorityMismatch = errors.New("custody authority does not match derivation")

// Authority is the proof-of-derivation for a custody address.
type Authority struct {
	ProgramID solana.PublicKey
	Seeds     [][]byte // derivation inputs, without the bump
	Bump      uint8
	Address   solana.PublicKey
}

// SignerSeeds returns Seeds with the bump appended, as presented when signing.
func (a Authority) SignerSeeds() [][]byte {
	seeds := make([][]byte, 0, len(a.Seeds)+1)
	seeds = append(seeds, a.Seeds...)
	return append(seeds, []byte{a.Bump})
}

// Verify recomputes the address from seeds and bump.
func (a Authority) Verify() error {
	addr, err := solana.CreateProgramAddress(a.SignerSeeds(), a.ProgramID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorityMismatch, err)
	}
	if addr != a.Address {
		return fmt.Errorf("%w: derived %s, claimed %s", ErrAuthorityMismatch, addr, a.Address)
	}
	return nil
}

// Authorize proves control of accounts owned by owner.
func (a Authority) Authorize(owner solana.PublicKey) error {
	if err := a.Verify(); err != nil {
		return err
	}
	if owner != a.Address {
		return fmt.Errorf("%w: owner %s, authority %s", ErrAuthorityMismatch, owner, a.Address)
	}
	return nil
}

// String returns the authority address.
func (a Authority) String() string {
	return a.Address.String()
}

// Deriver derives custody authorities and record addresses for one program.
type Deriver struct {
	programID solana.PublicKey
	scope     Scope
}

// NewDeriver creates a Deriver. An empty scope defaults to ScopeMint.
func NewDeriver(programID solana.PublicKey, scope Scope) (*Deriver, error) {
	if scope == "" {
		scope = ScopeMint
	}
	if !scope.IsValid() {
		return nil, fmt.Errorf("unknown custody scope %q", scope)
	}
	return &Deriver{programID: programID, scope: scope}, nil
}

// ProgramID returns the program the addresses are derived under.
func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// Scope returns the configured custody scope.
func (d *Deriver) Scope() Scope {
	return d.scope
}

// Vault derives the custody authority for mint.
// Seeds: ["vault", mint] or ["vault", mint, receiver] depending on scope.
// The custody token account lives at the authority address and is owned by it.
func (d *Deriver) Vault(mint, receiver solana.PublicKey) (Authority, error) {
	seeds := [][]byte{[]byte(VaultSeed), mint.Bytes()}
	if d.scope == ScopeReceiver {
		seeds = append(seeds, receiver.Bytes())
	}

	addr, bump, err := solana.FindProgramAddress(seeds, d.programID)
	if err != nil {
		return Authority{}, fmt.Errorf("derive vault: %w", err)
	}

	return Authority{
		ProgramID: d.programID,
		Seeds:     seeds,
		Bump:      bump,
		Address:   addr,
	}, nil
}

// RecordAddress derives the address of the vesting record for (receiver, mint).
// Seeds: ["vault_info", receiver, mint].
func (d *Deriver) RecordAddress(receiver, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(VaultInfoSeed),
		receiver.Bytes(),
		mint.Bytes(),
	}, d.programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive record address: %w", err)
	}
	return addr, nil
}
