package domain

// Mint describes a fungible asset.
// Corresponds to the token_mints table.
type Mint struct {
	Address       string
	Decimals      uint8
	MintAuthority string // wallet allowed to issue new supply
	Supply        uint64
}

// TokenAccount holds a balance of exactly one mint on behalf of an owner.
// Owner is either a wallet or a program-derived custody authority.
// Corresponds to the token_accounts table.
type TokenAccount struct {
	Address string
	Mint    string
	Owner   string
	Amount  uint64
}
