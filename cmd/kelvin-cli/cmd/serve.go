package cmd

import (
	"github.com/spf13/cobra"

	"kelvin-core/internal/currencies"
	"kelvin-core/internal/handler"
	"kelvin-core/internal/server"
	"kelvin-core/pkg/config"
	"kelvin-core/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动只读 HTTP API (校验, 余额, 历史, 准备/组装交易)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		defer logger.Sync()

		reg, cleanup, err := buildRegistry(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		j, err := openJournal()
		if err != nil {
			return err
		}
		if j != nil {
			defer j.Close()
		}

		locker, closeLocker, err := currencies.NewLocker(ctx, config.Global.Cache)
		if err != nil {
			return err
		}
		defer closeLocker()

		h := handler.NewCurrencyHandler(reg, j, handler.WithLocker(locker))
		engine, err := server.NewHTTPRouter(h)
		if err != nil {
			return err
		}
		return server.New(server.Config{HttpPort: config.Global.Server.HttpPort}, engine).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
