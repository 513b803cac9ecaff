package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"mvsynth/storage"
)

var (
	minioPrefix  string
	minioDelete  bool
	minioPresign string
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的运行产物：列出文件及统计信息、生成下载链接、删除目录。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		client, err := storage.NewClient(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		switch {
		case minioPresign != "":
			u, err := client.PresignGet(ctx, minioPresign, 24*time.Hour)
			if err != nil {
				log.Fatalf("生成下载链接失败: %v", err)
			}
			fmt.Println(u)

		case minioDelete:
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			n, err := client.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("成功删除目录 %s 及其下的 %d 个文件\n", minioPrefix, n)

		default:
			objects, stats, err := client.List(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("列出文件失败: %v", err)
			}
			for _, obj := range objects {
				fmt.Printf("  ├─ %s (%s, %s)\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("总文件数: %d, 总存储大小: %s\n", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		}
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")
	minioCmd.Flags().StringVar(&minioPresign, "presign", "", "为指定对象生成24小时下载链接")
	minioCmd.Example = `  mvsynth minio -p videos/
  mvsynth minio --presign videos/<run-id>/mvsynth_20240101_120000.mp4
  mvsynth minio -d -p keyframes/<run-id>`
}
