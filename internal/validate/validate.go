// Package validate provides format validators for member-submitted
// Solana wallet addresses and transaction signatures.
package validate

import (
	"regexp"

	"github.com/btcsuite/btcutil/base58"
)

var (
	walletRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	txSigRe  = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{64,88}$`)
)

// WalletAddress reports whether s is a well-formed Solana wallet
// address: base58, 32-44 characters, decoding to a 32-byte public key.
func WalletAddress(s string) bool {
	if !walletRe.MatchString(s) {
		return false
	}
	return len(base58.Decode(s)) == 32
}

// TxSignature reports whether s is a well-formed Solana transaction
// signature: base58 decoding to a 64-byte ed25519 signature.
func TxSignature(s string) bool {
	if !txSigRe.MatchString(s) {
		return false
	}
	return len(base58.Decode(s)) == 64
}
