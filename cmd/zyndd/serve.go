package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"ZyndAI-Connect/internal/api"
	"ZyndAI-Connect/internal/auth"
	"ZyndAI-Connect/internal/task"
	"ZyndAI-Connect/pkg/logger"
)

func newServeCmd(a *app) *cobra.Command {
	var withoutWebhook bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the paid webhook, the publish job workers and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), !withoutWebhook)
		},
	}
	cmd.Flags().BoolVar(&withoutWebhook, "no-webhook", false, "Do not mount the x402 webhook trigger")
	return cmd
}

func (a *app) serve(ctx context.Context, mountWebhook bool) error {
	cfg := a.cfg
	log := logger.Named("zyndd")
	res := &resources{}
	defer res.Close()

	cred, err := buildCredentials(cfg)
	if err != nil {
		return err
	}
	publications, err := buildPublications(ctx, cfg, res)
	if err != nil {
		return err
	}
	pub := buildPublisher(cfg, cred, publications)

	jobs, store, queue, err := buildJobService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobs.Close(); err != nil {
			log.Warn("关闭任务服务失败", "error", err)
		}
	}()

	opts := []api.Option{
		api.WithJobs(jobs),
		api.WithPublications(publications),
		api.WithAuth(auth.NewService(cfg.Server.AdminAPIKey)),
		api.WithDefaultWorkflowID(cfg.N8N.WorkflowID),
	}
	if mountWebhook {
		trigger, err := buildTrigger(ctx, cfg, res)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithTrigger(trigger))
		log.Info("付费 webhook 已挂载", "method", trigger.Method(), "path", "/webhook/"+trigger.Path())
	}

	processor := task.NewProcessor(pub, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithAlertDispatcher(buildAlerts(cfg)),
		task.WithStaleJobRecovery(leaseTimeout(cfg)),
	)
	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", "error", err)
		}
	}()

	log.Info("zyndd 已启动", "address", cfg.Server.Address, "queue", cfg.TaskQueue.Driver, "job_store", cfg.Storage.JobStore.Driver)
	if err := api.NewServer(cfg.Server.Address, opts...).Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
