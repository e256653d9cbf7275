package address

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// BTCGenerator 比特币系 (BTC/LTC) P2PKH 地址生成器
type BTCGenerator struct {
	network *chaincfg.Params
}

func NewBTCGenerator(network *chaincfg.Params) *BTCGenerator {
	return &BTCGenerator{network: network}
}

// PubKeyToAddress 先压缩公钥，再编码为 P2PKH 地址
func (g *BTCGenerator) PubKeyToAddress(pubKeyBytes []byte) (string, error) {
	pub, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), g.network)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
