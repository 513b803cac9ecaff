package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mvsynth/core/auth"
	"mvsynth/events"
	"mvsynth/logger"
	"mvsynth/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 mvsynth HTTP 服务器",
	Long:  `启动运行任务的 HTTP/WebSocket 接口：上传音频创建任务，查询、取消任务，并实时推送进度。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		template, err := a.baseRequest(nil)
		if err != nil {
			return err
		}

		var bus events.Bus = events.NewMemoryBus()
		if cfg.RedisEnabled() {
			rb, err := events.ConnectRedisBus(ctx, cfg)
			if err != nil {
				logger.Warn("Redis 进度通道不可用，使用进程内通道", logger.ErrorField(err))
			} else {
				defer rb.Close()
				bus = rb
			}
		}

		deps := server.Deps{
			Config:   cfg,
			Template: template,
			Executor: a.runner,
			Analyzer: a.analyzer,
			Runs:     a.runs,
			Bus:      bus,
		}
		if a.store != nil {
			deps.Uploader = a.store
		}
		if cfg.JWTSecret != "" {
			if deps.Issuer, err = auth.NewIssuer(cfg.JWTSecret); err != nil {
				return err
			}
		}

		srv, err := server.New(deps)
		if err != nil {
			return err
		}
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
