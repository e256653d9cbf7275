package hdwallet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	ErrInvalidSeed     = errors.New("无效的种子")
	ErrInvalidPath     = errors.New("无效的派生路径")
	ErrInvalidMnemonic = errors.New("无效的助记词")
)

// Wallet 分层确定性钱包 (BIP-32)，只在模拟设备内部持有私钥
type Wallet struct {
	master *hdkeychain.ExtendedKey
}

// FromSeed 使用 BIP-39 种子生成主密钥
func FromSeed(seed []byte) (*Wallet, error) {
	if len(seed) < hdkeychain.MinSeedBytes || len(seed) > hdkeychain.MaxSeedBytes {
		return nil, ErrInvalidSeed
	}

	// 扩展密钥的版本字节不参与派生，这里固定使用主网参数
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("生成主密钥失败: %w", err)
	}
	return &Wallet{master: master}, nil
}

// FromMnemonic 校验助记词后生成钱包
func FromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return FromSeed(MnemonicToSeed(mnemonic, passphrase))
}

// Derive 按索引序列派生扩展密钥
func (w *Wallet) Derive(path []uint32) (*hdkeychain.ExtendedKey, error) {
	key := w.master
	for _, index := range path {
		child, err := key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("派生子密钥失败: %w", err)
		}
		key = child
	}
	return key, nil
}

// PrivateKey 返回 path 处的椭圆曲线私钥 (用于签名)
func (w *Wallet) PrivateKey(path []uint32) (*btcec.PrivateKey, error) {
	key, err := w.Derive(path)
	if err != nil {
		return nil, err
	}
	return key.ECPrivKey()
}

// PublicKey 返回 path 处的椭圆曲线公钥
func (w *Wallet) PublicKey(path []uint32) (*btcec.PublicKey, error) {
	key, err := w.Derive(path)
	if err != nil {
		return nil, err
	}
	return key.ECPubKey()
}

// ParsePath 解析路径字符串
// 支持格式: m/44'/0'/0'/0/0 或 m/44h/0h/0h/0/0
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "m" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "m/") {
		return nil, ErrInvalidPath
	}

	segments := strings.Split(path[2:], "/")
	indices := make([]uint32, 0, len(segments))
	for _, segment := range segments {
		isHardened := false
		if strings.HasSuffix(segment, "'") || strings.HasSuffix(segment, "h") {
			isHardened = true
			segment = segment[:len(segment)-1]
		}

		val, err := strconv.ParseUint(segment, 10, 32)
		if err != nil || val >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: 路径段 '%s'", ErrInvalidPath, segment)
		}

		index := uint32(val)
		if isHardened {
			index += hdkeychain.HardenedKeyStart
		}
		indices = append(indices, index)
	}
	return indices, nil
}
