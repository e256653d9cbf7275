// Package deviceconn opens the signing device selected by configuration:
// a USB bridge daemon, or the keystore-backed simulator running in process.
package deviceconn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kelvin-core/pkg/config"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/device/bridge"
	"kelvin-core/pkg/device/simulator"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/hdwallet"
	"kelvin-core/pkg/keystore"
	"kelvin-core/pkg/logger"
)

// PasswordFunc asks the user for the keystore password.
type PasswordFunc func(prompt string) (string, error)

// Terminal is where the simulator shows its screen and asks for approval.
type Terminal struct {
	Display  io.Writer
	Input    io.Reader
	Password PasswordFunc
}

// Open returns a session on the configured transport.
func Open(cfg config.DeviceConfig, term Terminal) (*device.Session, error) {
	switch cfg.Transport {
	case "bridge":
		logger.Debug("using device bridge", zap.String("addr", cfg.BridgeAddr))
		return device.NewSession(bridge.Opener(cfg.BridgeAddr, cfg.Timeout)), nil
	case "sim", "":
		w, err := LoadWallet(cfg, term.Password)
		if err != nil {
			return nil, err
		}
		if term.Display == nil {
			term.Display = io.Discard
		}
		if term.Input == nil {
			term.Input = os.Stdin
		}
		opts := []simulator.Option{simulator.WithDisplay(term.Display)}
		if !cfg.AutoApprove {
			opts = append(opts, simulator.WithApprove(PromptApprove(term.Display, term.Input)))
		}
		return device.NewSession(simulator.New(w, opts...).Opener()), nil
	}
	return nil, fmt.Errorf("unknown device transport %q (want sim or bridge)", cfg.Transport)
}

// LoadWallet 优先使用明文助记词, 否则解密 keystore 文件
func LoadWallet(cfg config.DeviceConfig, password PasswordFunc) (*hdwallet.Wallet, error) {
	if cfg.Mnemonic != "" {
		logger.Warn("simulator is using a plaintext mnemonic from configuration")
		return hdwallet.FromMnemonic(cfg.Mnemonic, "")
	}
	key, err := keystore.LoadFromFile(cfg.Keystore)
	if err != nil {
		return nil, fmt.Errorf("load simulator keystore (run `kelvin-cli simulator init`): %w", err)
	}
	pass := cfg.Password
	if pass == "" {
		if password == nil {
			return nil, fmt.Errorf("keystore password required")
		}
		if pass, err = password("Keystore password: "); err != nil {
			return nil, err
		}
	}
	mnemonic, err := keystore.DecryptMnemonic(key, pass)
	if err != nil {
		return nil, err
	}
	return hdwallet.FromMnemonic(mnemonic, "")
}

// PromptApprove asks "approve? [y/N]" after the fields are displayed.
func PromptApprove(out io.Writer, in io.Reader) simulator.ApproveFunc {
	r := bufio.NewReader(in)
	return func([]wire.Field) bool {
		fmt.Fprint(out, "  approve? [y/N]: ")
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

// Lazy opens the device on the first Exchange, so nothing is unlocked for a
// request that fails validation first.
type Lazy struct {
	open    func() (*device.Session, error)
	once    sync.Once
	session *device.Session
	err     error
}

func NewLazy(open func() (*device.Session, error)) *Lazy {
	return &Lazy{open: open}
}

func (l *Lazy) Exchange(ctx context.Context, cmd device.Command) (device.Response, error) {
	l.once.Do(func() { l.session, l.err = l.open() })
	if l.err != nil {
		return device.Response{}, l.err
	}
	return l.session.Exchange(ctx, cmd)
}
