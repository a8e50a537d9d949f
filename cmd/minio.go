package cmd

import (
	"context"
	"fmt"
	"log"

	"EchoFM/config"
	"EchoFM/storage"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
	minioDelete    bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的文件，支持列出文件、查看统计信息、删除目录等功能。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		// 初始化MinIO客户端
		if err := storage.InitMinio(); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		client := storage.GetMinioClient()
		ctx := context.Background()

		objects := client.ListObjects(ctx, cfg.MinioBucket, minio.ListObjectsOptions{
			Prefix:    minioPrefix,
			Recursive: minioRecursive || minioDelete || minioStats,
		})

		if minioDelete {
			// 删除目录
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			deleted := 0
			for obj := range objects {
				if obj.Err != nil {
					log.Fatalf("遍历对象失败: %v", obj.Err)
				}
				if err := client.RemoveObject(ctx, cfg.MinioBucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
					log.Fatalf("删除对象 %s 失败: %v", obj.Key, err)
				}
				deleted++
			}
			fmt.Printf("已删除 %d 个对象\n", deleted)
		} else if minioStats {
			// 显示存储桶统计信息
			fmt.Println("\n获取存储桶统计信息...")
			var count int64
			var size int64
			for obj := range objects {
				if obj.Err != nil {
					log.Fatalf("遍历对象失败: %v", obj.Err)
				}
				count++
				size += obj.Size
			}
			fmt.Printf("对象数量: %d\n", count)
			fmt.Printf("总大小: %.2f MB\n", float64(size)/(1024*1024))
		} else {
			// 列出文件
			fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
			for obj := range objects {
				if obj.Err != nil {
					log.Fatalf("遍历对象失败: %v", obj.Err)
				}
				fmt.Printf("%10d  %s  %s\n", obj.Size, obj.LastModified.Format("2006-01-02 15:04"), obj.Key)
			}
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	// 添加命令行参数
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "递归列出目录结构")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	// 添加使用说明
	minioCmd.Example = `  # 列出所有文件
  echofm_server minio

  # 按前缀过滤文件
  echofm_server minio -p "ads/"

  # 显示存储桶统计信息
  echofm_server minio -s

  # 删除目录及其下的所有文件
  echofm_server minio -d -p "ads/"`
}
