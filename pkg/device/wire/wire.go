// Package wire defines the command identifiers and RLP payloads exchanged with
// the signing device.
package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/rlp"

	"kelvin-core/pkg/device"
)

// Currency families, high byte of a command id.
const (
	FamilyEthereum byte = 0x01
	FamilyBitcoin  byte = 0x02
	FamilyLitecoin byte = 0x03
	FamilyTron     byte = 0x04
)

// Operations, low byte of a command id.
const (
	OpGetPubkey byte = 0x01
	OpShowAddr  byte = 0x02
	OpSignTx    byte = 0x03
	OpSignHash  byte = 0x04
)

// Device status words.
const (
	StatusOK         uint16 = 0x0000
	StatusBadPayload uint16 = 0x6a80
	StatusRejected   uint16 = 0x6985
	StatusUnknownOp  uint16 = 0x6d00
	StatusInternal   uint16 = 0x6f00
)

const purpose = 44

func CommandID(family, op byte) uint16 {
	return uint16(family)<<8 | uint16(op)
}

func SplitCommandID(id uint16) (family, op byte) {
	return byte(id >> 8), byte(id)
}

// PathRequest asks for the key at Path (getpubkey, showaddr).
type PathRequest struct {
	Path    []uint32
	Network string
}

// Field is one line the device shows before the user approves.
type Field struct {
	Label string
	Value string
}

// SignRequest carries the unsigned transaction, the digests to sign with the
// key at Path and the fields to display. Tx is opaque to the device.
type SignRequest struct {
	Path    []uint32
	Network string
	Tx      []byte
	Digests [][]byte
	Display []Field
}

type PubkeyResponse struct {
	Pubkey []byte
}

// SignResponse holds one 65-byte R||S||V signature per requested digest.
type SignResponse struct {
	Signatures [][]byte
}

func Encode(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func Decode(b []byte, v interface{}) error {
	return rlp.DecodeBytes(b, v)
}

// NewCommand encodes payload for the given family and op.
func NewCommand(family, op byte, payload interface{}) (device.Command, error) {
	b, err := Encode(payload)
	if err != nil {
		return device.Command{}, err
	}
	return device.Command{ID: CommandID(family, op), Payload: b}, nil
}

// Path returns the BIP-44 path m/44'/coin'/0'/0/account.
func Path(coinType, account uint32) ([]uint32, error) {
	if account >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("account index %d out of range", account)
	}
	return []uint32{
		purpose + hdkeychain.HardenedKeyStart,
		coinType + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
		0,
		account,
	}, nil
}

// FormatPath renders a path as m/44'/60'/0'/0/0.
func FormatPath(path []uint32) string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, p := range path {
		sb.WriteString("/")
		if p >= hdkeychain.HardenedKeyStart {
			sb.WriteString(strconv.FormatUint(uint64(p-hdkeychain.HardenedKeyStart), 10))
			sb.WriteString("'")
		} else {
			sb.WriteString(strconv.FormatUint(uint64(p), 10))
		}
	}
	return sb.String()
}
