// Package payments answers x402-style payment challenges from the upstream
// aggregator. The signer is deterministic: a keccak-256 digest over the
// challenge and the configured key, hex-encoded into the retry header. A
// deployment wanting real on-chain settlement swaps the Authorizer.
package payments

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/sha3"
)

// Authorizer produces the payment authorization header value for a challenge.
type Authorizer interface {
	// Authorize returns the X-Payment header value for the upstream retry.
	Authorize(challenge string) (string, error)
}

// KeccakSigner is a deterministic digest signer over a private key.
type KeccakSigner struct {
	key    []byte
	logger *slog.Logger
}

// NewKeccakSigner parses a hex private key (0x prefix optional).
func NewKeccakSigner(privateKeyHex string, logger *slog.Logger) (*KeccakSigner, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("payments: decode private key: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("payments: private key is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeccakSigner{
		key:    key,
		logger: logger.With("component", "payments"),
	}, nil
}

// Authorize digests challenge||key with keccak-256.
func (s *KeccakSigner) Authorize(challenge string) (string, error) {
	if challenge == "" {
		return "", fmt.Errorf("payments: empty challenge")
	}
	digest := keccak256(append([]byte(challenge), s.key...))
	sig := hex.EncodeToString(digest)
	s.logger.Debug("signed payment challenge", "challenge_len", len(challenge))
	return "keccak256:" + sig, nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Disabled is an Authorizer that refuses every challenge. Used when payments
// are not configured so 402s surface as payment_required errors.
type Disabled struct{}

func (Disabled) Authorize(string) (string, error) {
	return "", fmt.Errorf("payments: not configured")
}
