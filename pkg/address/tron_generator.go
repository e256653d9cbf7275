package address

import (
	"github.com/btcsuite/btcd/btcutil/base58"
)

// TronPrefix 主网与测试网地址的版本字节相同
const TronPrefix byte = 0x41

// TronGenerator 波场地址生成器: base58check(0x41 || keccak256(pub)[12:])
type TronGenerator struct{}

func NewTronGenerator() *TronGenerator {
	return &TronGenerator{}
}

func (g *TronGenerator) PubKeyToAddress(pubKeyBytes []byte) (string, error) {
	raw, err := uncompressed(pubKeyBytes)
	if err != nil {
		return "", err
	}
	return base58.CheckEncode(keccak256(raw)[12:], TronPrefix), nil
}

// DecodeTron 校验 base58check 与版本字节，返回 21 字节地址 (含 0x41)
func DecodeTron(addr string) ([]byte, bool) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil || version != TronPrefix || len(payload) != 20 {
		return nil, false
	}
	return append([]byte{version}, payload...), true
}
