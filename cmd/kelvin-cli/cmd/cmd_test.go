package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/pkg/errno"
)

const generatorPub = "0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8"

// writeConfig 生成只使用内存缓存与临时 journal 的配置文件
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kelvin.yaml")
	body := "app:\n  log_level: error\n" +
		"device:\n  mnemonic: \"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about\"\n  auto_approve: true\n" +
		"journal:\n  enabled: true\n  path: " + filepath.Join(dir, "journal.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCurrenciesCommand(t *testing.T) {
	out, err := run(t, "currencies", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "eth")
	assert.Contains(t, out, "trx")
	assert.Contains(t, out, "mainnet")
}

func TestToAddrCommand(t *testing.T) {
	out, err := run(t, "toaddr", "eth", "mainnet", "--config", writeConfig(t), "--pubkey", generatorPub)
	require.NoError(t, err)
	assert.Contains(t, out, "the encoded address is:\n0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
}

func TestUnknownCurrency(t *testing.T) {
	_, err := run(t, "fees", "doge", "mainnet", "--config", writeConfig(t))
	assert.Error(t, err)
}

func TestGetPubkeyWithSimulator(t *testing.T) {
	out, err := run(t, "getpubkey", "eth", "mainnet", "--config", writeConfig(t), "--account", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "your pubkey for account 0 is:\n04")
}

func TestSimulatorAddress(t *testing.T) {
	out, err := run(t, "simulator", "address", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
}

func TestJournalEmpty(t *testing.T) {
	out, err := run(t, "journal", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
}

func TestSignTxValidatesBeforeUnlockingDevice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kelvin.yaml")
	// 没有助记词, keystore 也不存在: 打开设备必然失败
	body := "app:\n  log_level: error\n" +
		"device:\n  keystore: " + filepath.Join(dir, "missing.json") + "\n" +
		"journal:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	_, err := run(t, "signtx", "eth", "mainnet", "--config", path,
		"--pubkey", generatorPub, "--to", "not-an-address", "--amount", "1")
	assert.ErrorIs(t, err, errno.ErrInvalidAddress)
}
