package deviceconn

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kelvin-core/pkg/config"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/keystore"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func signHashCommand(t *testing.T) (uint16, []byte) {
	path, err := wire.Path(60, 0)
	require.NoError(t, err)
	cmd, err := wire.NewCommand(wire.FamilyEthereum, wire.OpSignHash, wire.SignRequest{
		Path:    path,
		Network: "mainnet",
		Digests: [][]byte{bytes.Repeat([]byte{1}, 32)},
		Display: []wire.Field{{Label: "Hash", Value: "0x01"}},
	})
	require.NoError(t, err)
	return cmd.ID, cmd.Payload
}

func TestPromptApprove(t *testing.T) {
	var out bytes.Buffer
	approve := PromptApprove(&out, strings.NewReader("y\nno\n"))
	assert.True(t, approve(nil))
	assert.False(t, approve(nil))
	assert.False(t, approve(nil)) // EOF
	assert.Contains(t, out.String(), "approve? [y/N]")
}

func TestOpenSimulatorWithKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	key, err := keystore.EncryptMnemonic(testMnemonic, "secret", keystore.LightScrypt)
	require.NoError(t, err)
	require.NoError(t, key.SaveToFile(path))

	asked := 0
	var display bytes.Buffer
	s, err := Open(config.DeviceConfig{Transport: "sim", Keystore: path}, Terminal{
		Display: &display,
		Input:   strings.NewReader("n\n"),
		Password: func(string) (string, error) {
			asked++
			return "secret", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)

	id, payload := signHashCommand(t)
	_, err = s.Exchange(context.Background(), deviceCommand(id, payload))
	assert.ErrorIs(t, err, errno.ErrDevice)
	assert.Contains(t, display.String(), "Hash")
}

func TestOpenSimulatorAutoApprove(t *testing.T) {
	s, err := Open(config.DeviceConfig{Transport: "sim", Mnemonic: testMnemonic, AutoApprove: true}, Terminal{Display: &bytes.Buffer{}})
	require.NoError(t, err)
	id, payload := signHashCommand(t)
	rsp, err := s.Exchange(context.Background(), deviceCommand(id, payload))
	require.NoError(t, err)
	var out wire.SignResponse
	require.NoError(t, wire.Decode(rsp.Payload, &out))
	require.Len(t, out.Signatures, 1)
	assert.Len(t, out.Signatures[0], 65)
}

func TestLoadWalletErrors(t *testing.T) {
	_, err := LoadWallet(config.DeviceConfig{Keystore: filepath.Join(t.TempDir(), "missing.json")}, nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "device.json")
	key, err := keystore.EncryptMnemonic(testMnemonic, "secret", keystore.LightScrypt)
	require.NoError(t, err)
	require.NoError(t, key.SaveToFile(path))

	_, err = LoadWallet(config.DeviceConfig{Keystore: path, Password: "wrong"}, nil)
	assert.True(t, errors.Is(err, keystore.ErrDecrypt))

	_, err = LoadWallet(config.DeviceConfig{Keystore: path}, nil)
	assert.Error(t, err)

	_, err = Open(config.DeviceConfig{Transport: "usb"}, Terminal{})
	assert.Error(t, err)
}

func deviceCommand(id uint16, payload []byte) device.Command {
	return device.Command{ID: id, Payload: payload}
}

func TestLazyOpensOnFirstExchange(t *testing.T) {
	opened := 0
	l := NewLazy(func() (*device.Session, error) {
		opened++
		return Open(config.DeviceConfig{Mnemonic: testMnemonic, AutoApprove: true}, Terminal{})
	})
	assert.Equal(t, 0, opened)

	id, payload := signHashCommand(t)
	for i := 0; i < 2; i++ {
		_, err := l.Exchange(context.Background(), device.Command{ID: id, Payload: payload})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, opened)
}

func TestLazyOpenError(t *testing.T) {
	boom := errors.New("no keystore")
	l := NewLazy(func() (*device.Session, error) { return nil, boom })
	id, payload := signHashCommand(t)
	_, err := l.Exchange(context.Background(), device.Command{ID: id, Payload: payload})
	assert.ErrorIs(t, err, boom)
}
