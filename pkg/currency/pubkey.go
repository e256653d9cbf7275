package currency

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"kelvin-core/pkg/errno"
)

var pubkeyPattern = regexp.MustCompile(`^04[0-9a-fA-F]{128}$`)

// ParsePubkey accepts only the uncompressed 130 hex digit encoding of a point
// on secp256k1.
func ParsePubkey(pubkey string) (*btcec.PublicKey, error) {
	if !pubkeyPattern.MatchString(pubkey) {
		return nil, errno.ErrInvalidPubkey.New("expected 04 followed by 128 hex digits")
	}
	raw, _ := hex.DecodeString(pubkey)
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, errno.ErrInvalidPubkey.Wrap(err, "not a secp256k1 point")
	}
	return pub, nil
}

// EncodePubkey renders pub in the contract's pubkey format (lowercase).
func EncodePubkey(pub *btcec.PublicKey) string {
	return strings.ToLower(hex.EncodeToString(pub.SerializeUncompressed()))
}
