package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/dto"
	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/service"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "从 YAML 文件导入未分配的草稿条目",
	Example: `  gtc-server seed -f fixtures/items.yaml

  # items.yaml
  items:
    - dataset_name: faq
      id: q-001
      content: {question: "如何重置密码？"}`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := loadSeedFile(seedFile)
		if err != nil {
			return err
		}

		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		svc := service.NewService(a.cfg, a.core, a.logger)
		resp, err := svc.Assignment.ImportItems(cmd.Context(), req, a.systemActor())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created=%d skipped=%d\n", resp.Created, resp.Skipped)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML 条目文件")
	_ = seedCmd.MarkFlagRequired("file")
}

// loadSeedFile 读取并解析条目文件
func loadSeedFile(path string) (*dto.ImportItemsRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取条目文件失败: %w", err)
	}
	var req dto.ImportItemsRequest
	if err := yaml.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("解析条目文件失败: %w", err)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("条目文件 %s 中没有条目", path)
	}
	for i, it := range req.Items {
		if it.DatasetName == "" || it.ID == "" {
			return nil, fmt.Errorf("第 %d 个条目缺少 dataset_name 或 id", i+1)
		}
	}
	return &req, nil
}
