package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sysmetrics-app/internal/agent"
	"sysmetrics-app/internal/config"
	"sysmetrics-app/internal/util"
)

const agentLogFile = "agent.log"

func main() {
	var configFile string
	v := config.New()

	root := &cobra.Command{
		Use:          "sysmetrics-agent",
		Short:        "Collect host metrics and post them to the sysmetrics API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger := &util.MetricsLogger{}
			if err := logger.Init(util.LoggerOptions{
				Dir:      cfg.Log.Dir,
				FileName: agentLogFile,
				Level:    cfg.Log.Level,
				Stderr:   true,
			}); err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.DeInit()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reporter := agent.NewReporter(agent.NewCollector(), logger, agent.ReporterOptions{
				Target:   cfg.Agent.Target,
				Interval: cfg.Agent.Interval,
				Timeout:  cfg.Agent.Timeout,
			})
			return reporter.Run(ctx)
		},
	}

	flags := root.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default ./config.yaml or $HOME/.sysmetrics/config.yaml)")
	flags.String("target", "http://127.0.0.1:8080/metrics", "ingestion endpoint")
	flags.Duration("interval", 2*time.Second, "collection interval")
	for key, flag := range map[string]string{"agent.target": "target", "agent.interval": "interval"} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
