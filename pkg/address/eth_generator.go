package address

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ETHGenerator 以太坊地址生成器
type ETHGenerator struct{}

func NewETHGenerator() *ETHGenerator {
	return &ETHGenerator{}
}

// PubKeyToAddress 将公钥字节转换为 EIP-55 地址
func (g *ETHGenerator) PubKeyToAddress(pubKeyBytes []byte) (string, error) {
	raw, err := uncompressed(pubKeyBytes)
	if err != nil {
		return "", err
	}
	// Keccak-256 后取后 20 字节
	return "0x" + ToChecksum(hex.EncodeToString(keccak256(raw)[12:])), nil
}

func keccak256(data []byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	return hash.Sum(nil)
}

// ToChecksum 实现 EIP-55 混合大小写校验，入参为不带 0x 的 40 位 hex
func ToChecksum(addressHex string) string {
	addressHex = strings.ToLower(strings.TrimPrefix(addressHex, "0x"))
	hexHash := hex.EncodeToString(keccak256([]byte(addressHex)))

	var sb strings.Builder
	for i := 0; i < len(addressHex); i++ {
		c := addressHex[i]
		// hash 的第 i 个 nibble >= 8 时大写
		if c >= 'a' && hexHash[i] >= '8' {
			sb.WriteByte(c - 'a' + 'A')
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
