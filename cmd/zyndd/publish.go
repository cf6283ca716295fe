package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"ZyndAI-Connect/internal/publisher"
)

type publishFlags struct {
	workflowID     string
	keyword        string
	capabilities   []string
	continueOnFail bool
}

func newPublishCmd(a *app) *cobra.Command {
	flags := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an n8n workflow to the Zynd agent registry",
		Long: `Fetch the workflow from n8n, register it with the Zynd registry and,
when the workflow has a webhook node, point the registered agent at it.

Examples:
  zyndd publish --workflow-id 42
  zyndd publish --workflow-id 42 --keyword finance --capability invoices --capability reports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.publish(cmd.Context(), cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.workflowID, "workflow-id", "w", "", "n8n workflow id (defaults to n8n.workflow_id)")
	cmd.Flags().StringVar(&flags.keyword, "keyword", "", "Agent keyword echoed in failure records")
	cmd.Flags().StringSliceVar(&flags.capabilities, "capability", nil, "Agent capability (repeatable)")
	cmd.Flags().BoolVar(&flags.continueOnFail, "continue-on-fail", false, "Emit a failure record instead of returning an error")
	return cmd
}

func (a *app) publish(ctx context.Context, cmd *cobra.Command, flags *publishFlags) error {
	workflowID := strings.TrimSpace(flags.workflowID)
	if workflowID == "" {
		workflowID = a.cfg.N8N.WorkflowID
	}
	if workflowID == "" {
		return errors.New("--workflow-id is required")
	}

	res := &resources{}
	defer res.Close()
	cred, err := buildCredentials(a.cfg)
	if err != nil {
		return err
	}
	publications, err := buildPublications(ctx, a.cfg, res)
	if err != nil {
		return err
	}

	records, err := buildPublisher(a.cfg, cred, publications).Publish(ctx, publisher.Request{
		WorkflowID: workflowID,
		Items: []publisher.Item{{
			AgentKeyword: flags.keyword,
			Capabilities: flags.capabilities,
		}},
		ContinueOnFail: flags.continueOnFail,
	})
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
