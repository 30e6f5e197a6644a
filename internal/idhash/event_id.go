package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-token-vesting/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(event_type|receiver|mint|released_amount|amount)
// released_amount is strictly increasing per record across releases and a
// record is locked once, so the id is unique per committed operation.
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	eventType domain.EventType,
	receiver string,
	mint string,
	releasedAmount uint64,
	amount uint64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		string(eventType),
		receiver,
		mint,
		releasedAmount,
		amount,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
