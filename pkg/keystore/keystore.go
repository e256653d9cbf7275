package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/scrypt"
)

// EncryptedKeyJSON 遵循 Ethereum Keystore V3 的结构风格
// 但存储的是模拟设备的 "助记词" (Mnemonic) 而不是单个私钥
type EncryptedKeyJSON struct {
	Crypto  CryptoJSON `json:"crypto"`
	Id      string     `json:"id"`      // UUID
	Version int        `json:"version"` // 3
}

type CryptoJSON struct {
	Cipher       string       `json:"cipher"`       // "aes-256-gcm"
	CipherText   string       `json:"ciphertext"`   // Hex string
	CipherParams CipherParams `json:"cipherparams"` // IV
	KDF          string       `json:"kdf"`          // "scrypt"
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"` // Hex string
}

type CipherParams struct {
	IV string `json:"iv"` // Hex string
}

type KDFParams struct {
	DKLen int    `json:"dklen"`
	N     int    `json:"n"`
	R     int    `json:"r"`
	P     int    `json:"p"`
	Salt  string `json:"salt"` // Hex string
}

// ScryptParams 控制 KDF 的强度
type ScryptParams struct {
	N int
	R int
	P int
}

var (
	// StandardScrypt 与 geth keystore 的默认强度一致
	StandardScrypt = ScryptParams{N: 262144, R: 8, P: 1}
	// LightScrypt 仅用于测试与开发环境
	LightScrypt = ScryptParams{N: 4096, R: 8, P: 1}

	ErrDecrypt = errors.New("invalid password or corrupted data (MAC mismatch)")
)

const dkLen = 32

// EncryptMnemonic 将助记词使用密码加密为 JSON 结构
func EncryptMnemonic(mnemonic, password string, params ScryptParams) (*EncryptedKeyJSON, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, dkLen)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(derivedKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(mnemonic), nil)

	id, err := newUUID()
	if err != nil {
		return nil, err
	}

	return &EncryptedKeyJSON{
		Version: 3,
		Id:      id,
		Crypto: CryptoJSON{
			Cipher:       "aes-256-gcm",
			CipherText:   hex.EncodeToString(ciphertext),
			CipherParams: CipherParams{IV: hex.EncodeToString(nonce)},
			KDF:          "scrypt",
			KDFParams: KDFParams{
				DKLen: dkLen,
				N:     params.N,
				R:     params.R,
				P:     params.P,
				Salt:  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(mac(derivedKey, ciphertext)),
		},
	}, nil
}

// DecryptMnemonic 解密 Keystore JSON 获取助记词
func DecryptMnemonic(keyJSON *EncryptedKeyJSON, password string) (string, error) {
	if keyJSON.Crypto.KDF != "scrypt" || keyJSON.Crypto.Cipher != "aes-256-gcm" {
		return "", fmt.Errorf("unsupported keystore: kdf=%s cipher=%s", keyJSON.Crypto.KDF, keyJSON.Crypto.Cipher)
	}

	salt, err := hex.DecodeString(keyJSON.Crypto.KDFParams.Salt)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}
	nonce, err := hex.DecodeString(keyJSON.Crypto.CipherParams.IV)
	if err != nil {
		return "", fmt.Errorf("invalid iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(keyJSON.Crypto.CipherText)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}
	wantMAC, err := hex.DecodeString(keyJSON.Crypto.MAC)
	if err != nil {
		return "", fmt.Errorf("invalid mac: %w", err)
	}

	p := keyJSON.Crypto.KDFParams
	derivedKey, err := scrypt.Key([]byte(password), salt, p.N, p.R, p.P, p.DKLen)
	if err != nil {
		return "", err
	}

	if subtle.ConstantTimeCompare(wantMAC, mac(derivedKey, ciphertext)) != 1 {
		return "", ErrDecrypt
	}

	gcm, err := newGCM(derivedKey)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// SaveToFile 保存到文件
func (k *EncryptedKeyJSON) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0600) // 0600 is important
}

// LoadFromFile 从文件加载
func LoadFromFile(filename string) (*EncryptedKeyJSON, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var k EncryptedKeyJSON
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parse keystore %s: %w", filename, err)
	}
	return &k, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// mac = SHA256(derivedKey || ciphertext)
func mac(derivedKey, ciphertext []byte) []byte {
	h := sha256.New()
	h.Write(derivedKey)
	h.Write(ciphertext)
	return h.Sum(nil)
}

func newUUID() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:]), nil
}
