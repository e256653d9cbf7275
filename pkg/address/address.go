// Package address 把设备返回的 secp256k1 公钥编码为各链的收款地址
package address

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// Generator 地址生成器
type Generator interface {
	PubKeyToAddress(pubKeyBytes []byte) (string, error)
}

// uncompressed 接受压缩 (33 bytes) 或非压缩 (65 bytes) 公钥，返回去掉 0x04 前缀的 64 字节
func uncompressed(pubKeyBytes []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, err
	}
	return pub.SerializeUncompressed()[1:], nil
}
