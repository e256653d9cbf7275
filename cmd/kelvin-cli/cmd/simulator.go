package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kelvin-core/internal/deviceconn"
	"kelvin-core/pkg/address"
	"kelvin-core/pkg/config"
	"kelvin-core/pkg/device/bridge"
	"kelvin-core/pkg/device/simulator"
	"kelvin-core/pkg/device/wire"
	"kelvin-core/pkg/hdwallet"
	"kelvin-core/pkg/keystore"
	"kelvin-core/pkg/logger"
)

var (
	simListen  string
	simAccount uint32
	simWords   int
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "软件模拟签名设备",
	Long:  `使用加密 keystore 中的助记词模拟硬件签名设备, 可通过 bridge 协议对外提供服务。`,
}

var simInitCmd = &cobra.Command{
	Use:   "init",
	Short: "生成新的助记词并加密保存到 keystore",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Global.Device.Keystore
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("keystore %s 已存在, 拒绝覆盖", path)
		}

		bits := 128
		if simWords == 24 {
			bits = 256
		} else if simWords != 12 {
			return fmt.Errorf("--words 只能是 12 或 24")
		}
		mnemonic, err := hdwallet.NewMnemonic(bits)
		if err != nil {
			return err
		}

		pw, err := readPassword("new keystore password: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("repeat password: ")
		if err != nil {
			return err
		}
		if pw != confirm {
			return errors.New("两次输入的密码不一致")
		}
		if pw == "" {
			return errors.New("密码不能为空")
		}

		k, err := keystore.EncryptMnemonic(mnemonic, pw, keystore.StandardScrypt)
		if err != nil {
			return err
		}
		if err := k.SaveToFile(path); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "---------------------------------------------------")
		fmt.Fprintf(out, "助记词 (Mnemonic), 请离线抄写保存:\n%s\n", mnemonic)
		fmt.Fprintln(out, "---------------------------------------------------")
		fmt.Fprintf(out, "keystore saved to %s (id %s)\n", path, k.Id)
		return nil
	},
}

var simServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "通过 bridge 协议提供模拟设备",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		defer logger.Sync()

		cfg := config.Global.Device
		w, err := deviceconn.LoadWallet(cfg, readPassword)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		opts := []simulator.Option{simulator.WithDisplay(out)}
		if !cfg.AutoApprove {
			opts = append(opts, simulator.WithApprove(deviceconn.PromptApprove(out, os.Stdin)))
		}
		sim := simulator.New(w, opts...)

		ln, err := net.Listen("tcp", simListen)
		if err != nil {
			return err
		}
		logger.Info("simulator listening", zap.String("addr", ln.Addr().String()))
		fmt.Fprintf(out, "simulated device ready on %s (Ctrl-C to stop)\n", ln.Addr())
		return bridge.Serve(ctx, ln, sim)
	},
}

// simAddressCmd 打印模拟设备在各网络上的账户地址, 便于给测试网地址充值
var simAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "显示模拟设备的账户地址",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := deviceconn.LoadWallet(config.Global.Device, readPassword)
		if err != nil {
			return err
		}

		rows := []struct {
			name     string
			coinType uint32
			gen      address.Generator
		}{
			{"eth", 60, address.NewETHGenerator()},
			{"btc mainnet", 0, address.NewBTCGenerator(&chaincfg.MainNetParams)},
			{"btc testnet", 1, address.NewBTCGenerator(&chaincfg.TestNet3Params)},
			{"ltc mainnet", 2, address.NewBTCGenerator(&address.LitecoinMainNetParams)},
			{"ltc testnet", 1, address.NewBTCGenerator(&address.LitecoinTestNetParams)},
			{"trx", 195, address.NewTronGenerator()},
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "account %d\n", simAccount)
		fmt.Fprintln(out, "---------------------------------------------------")
		for _, r := range rows {
			path, err := wire.Path(r.coinType, simAccount)
			if err != nil {
				return err
			}
			pub, err := w.PublicKey(path)
			if err != nil {
				return err
			}
			pubBytes := pub.SerializeUncompressed()
			addr, err := r.gen.PubKeyToAddress(pubBytes)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-12s %s\t%s\n", r.name, wire.FormatPath(path), addr)
			if r.name == "eth" {
				fmt.Fprintf(out, "%-12s %s\n", "  pubkey", hex.EncodeToString(pubBytes))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulatorCmd)
	simulatorCmd.AddCommand(simInitCmd, simServeCmd, simAddressCmd)

	simInitCmd.Flags().IntVar(&simWords, "words", 24, "mnemonic length (12 or 24)")
	simServeCmd.Flags().StringVar(&simListen, "listen", "127.0.0.1:7420", "address to accept bridge connections on")
	simAddressCmd.Flags().Uint32Var(&simAccount, "account", 0, "account index")
}
