package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"mvsynth/cache"
	"mvsynth/events"
	"mvsynth/model"
)

var redisFlush bool

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并验证进度发布订阅通道。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := cache.ConnectRedis(ctx, cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer cache.CloseRedis()
		fmt.Println("Redis连接成功！")

		if err := cache.CheckRedis(ctx); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if err := testProgressBus(ctx); err != nil {
			log.Fatalf("Redis发布订阅测试失败: %v", err)
		}
		fmt.Println("Redis发布订阅测试成功！")

		st, err := cache.ArtifactStats(ctx, cache.RedisClient)
		if err != nil {
			log.Fatalf("统计缓存失败: %v", err)
		}
		fmt.Printf("缓存条目: 分析结果 %d, 关键帧 %d\n", st.Analyses, st.Keyframes)

		if redisFlush {
			n, err := cache.FlushArtifacts(ctx, cache.RedisClient)
			if err != nil {
				log.Fatalf("清除缓存失败: %v", err)
			}
			fmt.Printf("已清除 %d 个缓存键\n", n)
		}
		fmt.Println("Redis测试完成。")
	},
}

// testProgressBus publishes one event and waits for it to come back.
func testProgressBus(ctx context.Context) error {
	bus, err := events.ConnectRedisBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, "healthcheck")
	if err != nil {
		return err
	}
	defer sub.Close()
	if err := bus.Publish(ctx, model.ProgressEvent{RunID: "healthcheck", Message: "ping", Time: time.Now()}); err != nil {
		return err
	}
	select {
	case ev := <-sub.C:
		if ev.Message != "ping" {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().BoolVar(&redisFlush, "flush", false, "清除分析与关键帧缓存")
}
