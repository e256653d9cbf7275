package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"kelvin-core/pkg/config"
	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
	"kelvin-core/pkg/monitor"
)

var (
	cfgFile     string
	metricsFile string
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "kelvin-cli",
	Short: "硬件钱包多币种签名工具",
	Long: `kelvin-cli 驱动签名设备完成 展示 -> 核对 -> 签名 -> 广播 流程。
支持 eth, erc20, btc, ltc, trx。

  kelvin-cli <action> <currency> <network> [flags]`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return logger.Init(config.Global.App.Env, config.Global.App.LogLevel)
	},
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	err := rootCmd.Execute()
	if metricsFile != "" {
		if werr := monitor.WriteTextfile(metricsFile); werr != nil {
			logger.Warn("write metrics textfile", zap.String("path", metricsFile), zap.Error(werr))
		}
	}
	logger.Sync()
	if err != nil {
		_, msg := errno.Decode(err)
		fmt.Fprintln(os.Stderr, "error: "+msg)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./kelvin.yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
}

// readPassword 从终端读取密码, 提示写到 stderr
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(b), nil
}
