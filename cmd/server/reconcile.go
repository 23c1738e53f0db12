package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/andrewDoing/GroundTruthCurator-sub002/internal/service"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "执行一次分配索引清理并输出报告",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		svc := service.NewService(a.cfg, a.core, a.logger)
		report, err := svc.Assignment.Reconcile(cmd.Context(), a.systemActor())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}
