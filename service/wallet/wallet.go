// Package wallet provides the signing identities the submission pipeline
// reads. It never manages a wallet's lifecycle beyond loading a key.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrNotConnected is returned when signing is requested without an identity.
var ErrNotConnected = errors.New("wallet not connected")

// Wallet is a connected (or absent) signing identity.
type Wallet interface {
	Connected() bool
	PublicKey() (solana.PublicKey, bool)
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Keypair is a wallet backed by a local private key.
type Keypair struct {
	key solana.PrivateKey
}

// NewKeypair wraps an in-memory private key.
func NewKeypair(key solana.PrivateKey) *Keypair {
	return &Keypair{key: key}
}

// LoadKeypair reads a solana-keygen JSON key file.
func LoadKeypair(path string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypair(key), nil
}

func (k *Keypair) Connected() bool { return true }

func (k *Keypair) PublicKey() (solana.PublicKey, bool) {
	return k.key.PublicKey(), true
}

// SignTransaction adds this key's signature. It fails if the transaction
// does not list the key as a signer.
func (k *Keypair) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pub := k.key.PublicKey()
	_, err := tx.Sign(func(signer solana.PublicKey) *solana.PrivateKey {
		if signer.Equals(pub) {
			return &k.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// Disconnected is the absent identity.
type Disconnected struct{}

func (Disconnected) Connected() bool { return false }

func (Disconnected) PublicKey() (solana.PublicKey, bool) { return solana.PublicKey{}, false }

func (Disconnected) SignTransaction(context.Context, *solana.Transaction) error {
	return ErrNotConnected
}
