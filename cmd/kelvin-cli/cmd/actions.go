package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kelvin-core/internal/currencies"
	"kelvin-core/internal/deviceconn"
	"kelvin-core/internal/driver"
	"kelvin-core/internal/journal"
	"kelvin-core/pkg/config"
	"kelvin-core/pkg/currency"
	"kelvin-core/pkg/device"
	"kelvin-core/pkg/logger"
)

var actionHelp = map[driver.Action]string{
	driver.ActionGetPubkey: "读取设备上账户的公钥",
	driver.ActionToAddr:    "由公钥 (--pubkey) 计算地址",
	driver.ActionShowAddr:  "在设备屏幕上显示账户地址",
	driver.ActionFees:      "列出建议的手续费选项",
	driver.ActionSignTx:    "准备交易, 在设备上核对并签名",
	driver.ActionBroadcast: "广播已签名交易 (--tx)",
	driver.ActionBalance:   "查询地址余额 (--address 或 --pubkey)",
	driver.ActionHistory:   "查询地址最近的交易",
	driver.ActionSignHash:  "用账户私钥签名 32 字节摘要 (--digest)",
}

// needsDevice 只有这些动作会打开签名设备
var needsDevice = map[driver.Action]bool{
	driver.ActionGetPubkey: true,
	driver.ActionShowAddr:  true,
	driver.ActionSignTx:    true,
	driver.ActionSignHash:  true,
}

// signalContext 在 Ctrl-C / SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildRegistry 构造缓存与币种注册表; 返回的 cleanup 总是非 nil
func buildRegistry(ctx context.Context) (*currency.Registry, func(), error) {
	c, closeCache, err := currencies.NewCache(ctx, config.Global.Cache)
	if err != nil {
		return nil, closeCache, err
	}
	reg, err := currencies.NewRegistry(config.Global, c)
	if err != nil {
		closeCache()
		return nil, func() {}, err
	}
	return reg, closeCache, nil
}

func openJournal() (*journal.Journal, error) {
	if !config.Global.Journal.Enabled {
		return nil, nil
	}
	return journal.Open(config.Global.Journal.Path)
}

func openDevice() (*device.Session, error) {
	return deviceconn.Open(config.Global.Device, deviceconn.Terminal{
		Display:  os.Stderr,
		Input:    os.Stdin,
		Password: readPassword,
	})
}

func newActionCmd(action driver.Action) *cobra.Command {
	var (
		account uint32
		p       driver.Params
	)
	c := &cobra.Command{
		Use:   string(action) + " <currency> <network>",
		Short: actionHelp[action],
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			reg, cleanup, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := []driver.Option{driver.WithOutput(cmd.OutOrStdout())}
			if action == driver.ActionSignTx || action == driver.ActionBroadcast {
				j, err := openJournal()
				if err != nil {
					return err
				}
				if j != nil {
					defer j.Close()
					opts = append(opts, driver.WithJournal(j))
				}
			}

			var dev driver.Exchanger
			if needsDevice[action] {
				// 第一次发送命令时才解锁设备, 校验失败不会提示输入密码
				dev = deviceconn.NewLazy(openDevice)
			}

			p.Account = account
			defer logger.Sync()
			return driver.New(reg, dev, opts...).Run(ctx, action, args[0], args[1], p)
		},
	}
	f := c.Flags()
	f.Uint32Var(&account, "account", 0, "account index x in m/44'/coin'/0'/0/x")
	switch action {
	case driver.ActionToAddr:
		f.StringVar(&p.Pubkey, "pubkey", "", "uncompressed public key (04...)")
	case driver.ActionSignTx:
		f.StringVar(&p.Pubkey, "pubkey", "", "sender public key (04...)")
		f.StringVar(&p.To, "to", "", "destination address")
		f.StringVar(&p.Amount, "amount", "", "amount in normal units")
		f.StringVar(&p.Fee, "fee", "", "fee option (see the fees action); empty picks the standard option")
	case driver.ActionBroadcast:
		f.StringVar(&p.Tx, "tx", "", "signed transaction")
	case driver.ActionBalance, driver.ActionHistory:
		f.StringVar(&p.Address, "address", "", "address to query")
		f.StringVar(&p.Pubkey, "pubkey", "", "derive the address from this public key")
	case driver.ActionSignHash:
		f.StringVar(&p.Digest, "digest", "", "32-byte digest as hex")
	}
	return c
}

func init() {
	for _, a := range driver.Actions {
		rootCmd.AddCommand(newActionCmd(a))
	}
}
