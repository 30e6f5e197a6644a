package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"solana-token-vesting/internal/solana"
)

// Keypair files use the Solana CLI layout: a JSON array of the 64 bytes
// seed||public key.

func generateKey() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	return key, err
}

func writeKeyFile(path string, key ed25519.PrivateKey, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	return json.NewEncoder(f).Encode(ints)
}

func readKeyFile(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(ints))
	}

	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}

	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, errors.New("keypair public key does not match seed")
	}
	return key, nil
}

func walletOf(key ed25519.PrivateKey) solana.PublicKey {
	pk, _ := solana.PublicKeyFromEd25519(key.Public().(ed25519.PublicKey))
	return pk
}
