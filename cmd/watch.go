package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mvsynth/core/inbox"
	"mvsynth/logger"
)

var (
	watch         renderFlags
	watchDir      string
	watchExisting bool
	watchUpload   bool
	watchSettle   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监听收件目录并自动渲染",
	Long:  `监听收件目录，新音频文件写入完成后按顺序逐个渲染成视频。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireStyle(&watch); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, watchUpload)
		if err != nil {
			return err
		}
		defer a.Close()

		template, err := a.baseRequest(&watch)
		if err != nil {
			return err
		}
		dir := watchDir
		if dir == "" {
			dir = cfg.InboxDir
		}

		opts := []inbox.Option{inbox.WithSettle(watchSettle)}
		if watchExisting {
			opts = append(opts, inbox.WithExisting())
		}
		w := inbox.New(dir, func(ctx context.Context, path string) error {
			req := template
			req.AudioPath = path
			res, err := renderOne(ctx, a, req, watchUpload)
			if err != nil {
				return err
			}
			logger.Info("视频已生成", logger.String("audio", path), logger.String("output", res.OutputPath))
			return nil
		}, opts...)
		return w.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addRenderFlags(watchCmd, &watch)
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "inbox directory (default INBOX_DIR)")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also render audio already in the inbox")
	watchCmd.Flags().BoolVar(&watchUpload, "upload", false, "upload results to MinIO")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "how long a file must stay unchanged before rendering")
}
