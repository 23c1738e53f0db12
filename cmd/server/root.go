package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd 不带子命令时打印帮助
var rootCmd = &cobra.Command{
	Use:   "gtc-server",
	Short: "Ground truth curation assignment service",
	Long:  `为问答条目审核提供领取、接管与乐观并发写入的服务。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认查找 ./config/config.yaml）")
	rootCmd.AddCommand(serveCmd, reconcileCmd, seedCmd)
}

// Execute 由 main 调用，只执行一次
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
