package api

import (
	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/vesting"
)

// Amounts travel as decimal strings of base units.

// LockRequest is the body of POST /v1/lock. The depositor is the
// authenticated wallet.
type LockRequest struct {
	Receiver  string `json:"receiver"`
	Mint      string `json:"mint"`
	Amount    uint64 `json:"amount,string"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Shape     string `json:"shape,omitempty"`
}

// UnlockRequest is the body of POST /v1/unlock.
type UnlockRequest struct {
	Receiver string `json:"receiver"`
	Mint     string `json:"mint"`
}

// CreateMintRequest is the body of POST /v1/dev/mints. The mint authority is
// the authenticated wallet.
type CreateMintRequest struct {
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

// MintToRequest is the body of POST /v1/dev/mint-to.
type MintToRequest struct {
	Mint   string `json:"mint"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount,string"`
}

// Record is the wire form of a vesting record.
type Record struct {
	Address        string `json:"address"`
	Receiver       string `json:"receiver"`
	Mint           string `json:"mint"`
	Depositor      string `json:"depositor"`
	Custody        string `json:"custody"`
	TotalAmount    uint64 `json:"total_amount,string"`
	ReleasedAmount uint64 `json:"released_amount,string"`
	Remaining      uint64 `json:"remaining,string"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	Shape          string `json:"shape"`
	TotalWeeks     uint64 `json:"total_weeks,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

func recordFromDomain(r *domain.VestingRecord) Record {
	return Record{
		Address:        r.Address,
		Receiver:       r.Receiver,
		Mint:           r.Mint,
		Depositor:      r.Depositor,
		Custody:        r.Custody,
		TotalAmount:    r.TotalAmount,
		ReleasedAmount: r.ReleasedAmount,
		Remaining:      r.Remaining(),
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Shape:          string(r.Shape),
		TotalWeeks:     r.TotalWeeks,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func recordsFromDomain(rs []*domain.VestingRecord) []Record {
	out := make([]Record, 0, len(rs))
	for _, r := range rs {
		out = append(out, recordFromDomain(r))
	}
	return out
}

// Preview is the wire form of vesting.Preview.
type Preview struct {
	Record        Record `json:"record"`
	At            int64  `json:"at"`
	Status        string `json:"status"`
	Entitled      uint64 `json:"entitled,string"`
	Releasable    uint64 `json:"releasable,string"`
	NextReleaseAt int64  `json:"next_release_at,omitempty"`
}

func previewFromVesting(p *vesting.Preview) Preview {
	return Preview{
		Record:        recordFromDomain(p.Record),
		At:            p.At,
		Status:        string(p.Status),
		Entitled:      p.Entitled,
		Releasable:    p.Releasable,
		NextReleaseAt: p.NextReleaseAt,
	}
}

// UnlockResult is the wire form of vesting.UnlockResult.
type UnlockResult struct {
	Released      uint64 `json:"released,string"`
	ReleasedTotal uint64 `json:"released_total,string"`
	Remaining     uint64 `json:"remaining,string"`
	Entitled      uint64 `json:"entitled,string"`
	At            int64  `json:"at"`
	Destination   string `json:"destination"`
}

func unlockFromVesting(r *vesting.UnlockResult) UnlockResult {
	return UnlockResult{
		Released:      r.Released,
		ReleasedTotal: r.ReleasedTotal,
		Remaining:     r.Remaining,
		Entitled:      r.Entitled,
		At:            r.At,
		Destination:   r.Destination,
	}
}

// Custody describes a derived custody authority.
type Custody struct {
	Address   string   `json:"address"`
	ProgramID string   `json:"program_id"`
	Scope     string   `json:"scope"`
	Bump      uint8    `json:"bump"`
	Seeds     [][]byte `json:"seeds"`
}

func custodyFromAuthority(a custody.Authority, scope custody.Scope) Custody {
	return Custody{
		Address:   a.Address.String(),
		ProgramID: a.ProgramID.String(),
		Scope:     string(scope),
		Bump:      a.Bump,
		Seeds:     a.Seeds,
	}
}

// Account is the wire form of a token account.
type Account struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  uint64 `json:"amount,string"`
}

func accountFromDomain(a *domain.TokenAccount) Account {
	return Account{Address: a.Address, Mint: a.Mint, Owner: a.Owner, Amount: a.Amount}
}

// Mint is the wire form of a mint.
type Mint struct {
	Address       string `json:"address"`
	Decimals      uint8  `json:"decimals"`
	MintAuthority string `json:"mint_authority"`
	Supply        uint64 `json:"supply,string"`
}

func mintFromDomain(m *domain.Mint) Mint {
	return Mint{Address: m.Address, Decimals: m.Decimals, MintAuthority: m.MintAuthority, Supply: m.Supply}
}

// Error is the body of every non-2xx response.
type Error struct {
	Error     string `json:"error"`
	Class     string `json:"class"`
	RequestID string `json:"request_id,omitempty"`
}
