package main

import (
	"os"

	"github.com/spf13/cobra"

	"ZyndAI-Connect/internal/config"
	"ZyndAI-Connect/pkg/logger"
)

// version 在构建时通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

// app 保存各子命令共享的配置。
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{configPath: os.Getenv("ZYND_CONFIG")}
	if a.configPath == "" {
		a.configPath = config.DefaultPath
	}

	root := &cobra.Command{
		Use:           "zyndd",
		Short:         "Publish n8n workflows to the Zynd registry and serve x402 paid webhooks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", a.configPath, "Path to the JSON config file")

	root.AddCommand(
		newServeCmd(a),
		newPublishCmd(a),
		newChatCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the zyndd version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("zyndd " + version)
		},
	}
}
