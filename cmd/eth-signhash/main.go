// eth-signhash asks the signing device to sign a 32-byte digest with the
// Ethereum key at m/44'/60'/0'/0/index.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kelvin-core/internal/currencies"
	"kelvin-core/internal/deviceconn"
	"kelvin-core/internal/driver"
	"kelvin-core/pkg/config"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
)

var (
	cfgFile string
	index   uint32
)

var rootCmd = &cobra.Command{
	Use:           "eth-signhash <hashHex>",
	Short:         "用以太坊账户私钥签名 32 字节摘要",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logger.Init(config.Global.App.Env, config.Global.App.LogLevel); err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		c, closeCache, err := currencies.NewCache(ctx, config.Global.Cache)
		defer closeCache()
		if err != nil {
			return err
		}
		reg, err := currencies.NewRegistry(config.Global, c)
		if err != nil {
			return err
		}

		dev, err := deviceconn.Open(config.Global.Device, deviceconn.Terminal{
			Display:  os.Stderr,
			Input:    os.Stdin,
			Password: readPassword,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "derivation path m/44'/60'/0'/0/%d\n", index)
		d := driver.New(reg, dev, driver.WithOutput(cmd.OutOrStdout()))
		return d.Run(ctx, driver.ActionSignHash, "eth", "mainnet", driver.Params{Account: index, Digest: args[0]})
	},
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return string(b), err
}

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./kelvin.yaml)")
	rootCmd.Flags().Uint32VarP(&index, "index", "i", 0, "specify x in path m/44'/60'/0'/0/x")
	if err := rootCmd.Execute(); err != nil {
		_, msg := errno.Decode(err)
		fmt.Fprintln(os.Stderr, "error: "+msg)
		os.Exit(1)
	}
}
