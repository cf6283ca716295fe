package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ZyndAI-Connect/sdk/go/zynd"
)

func main() {
	var (
		addr    string
		apiKey  string
		keyword string
	)
	cmd := &cobra.Command{
		Use:          "zynd-sdk-example",
		Short:        "提交一个发布任务并等待结果",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := zynd.NewClient(addr, apiKey, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			job, err := client.SubmitJob(ctx, zynd.JobSubmission{Items: []zynd.Item{{AgentKeyword: keyword}}})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s (status=%s)\n", job.ID, job.Status)

			job, err = client.WaitForJob(ctx, job.ID, 2*time.Second)
			if err != nil {
				return err
			}
			for _, record := range job.Records {
				if record.JSON.Success {
					fmt.Fprintf(cmd.OutOrStdout(), "item %d published as %s\n", record.PairedItem, record.JSON.AgentID)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "item %d failed: %s\n", record.PairedItem, record.JSON.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "url", "http://127.0.0.1:8080", "zyndd 地址")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("ZYND_ADMIN_API_KEY"), "管理接口 API key")
	cmd.Flags().StringVar(&keyword, "keyword", "", "agent 搜索关键字")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
