package address

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Litecoin 网络参数，只填写地址编码与 HD 派生需要的字段
var (
	LitecoinMainNetParams = chaincfg.Params{
		Name:             "litecoin-mainnet",
		Net:              wire.BitcoinNet(0xdbb6c0fb),
		DefaultPort:      "9333",
		Bech32HRPSegwit:  "ltc",
		PubKeyHashAddrID: 0x30,
		ScriptHashAddrID: 0x32,
		PrivateKeyID:     0xb0,
		HDPrivateKeyID:   [4]byte{0x04, 0x88, 0xad, 0xe4},
		HDPublicKeyID:    [4]byte{0x04, 0x88, 0xb2, 0x1e},
		HDCoinType:       2,
	}

	LitecoinTestNetParams = chaincfg.Params{
		Name:             "litecoin-testnet4",
		Net:              wire.BitcoinNet(0xf1c8d2fd),
		DefaultPort:      "19335",
		Bech32HRPSegwit:  "tltc",
		PubKeyHashAddrID: 0x6f,
		ScriptHashAddrID: 0x3a,
		PrivateKeyID:     0xef,
		HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94},
		HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf},
		HDCoinType:       1,
	}
)

func init() {
	for _, p := range []*chaincfg.Params{&LitecoinMainNetParams, &LitecoinTestNetParams} {
		if err := chaincfg.Register(p); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
			panic(err)
		}
	}
}
