package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/Phill101/kafka-flow/internal/config"
	"github.com/Phill101/kafka-flow/internal/cmd/runner"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kafkaflow",
		Short: "kafka-flow runtime CLI",
		Long:  "kafka-flow runs keyed state machines over Kafka partitions and commits offsets only past finished work.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the kafka-flow engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)

			if v, _ := cmd.Flags().GetString("brokers"); v != "" {
				cfg.Brokers = splitList(v)
			}
			if v, _ := cmd.Flags().GetString("group"); v != "" {
				cfg.Group = v
			}
			if v, _ := cmd.Flags().GetString("application-id"); v != "" {
				cfg.ApplicationID = v
			}
			if v, _ := cmd.Flags().GetString("topics"); v != "" {
				cfg.Topics = splitList(v)
			}
			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("fsync"); v != "" {
				cfg.Fsync = v
			}
			if v, _ := cmd.Flags().GetString("status"); v != "" {
				cfg.StatusAddr = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Log.Level = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.Log.Format = v
			}

			return runner.Run(context.Background(), cfg)
		},
	}
	runCmd.Flags().String("config", "", "Config file (JSON or YAML)")
	runCmd.Flags().String("brokers", "", "Comma-separated Kafka bootstrap addresses")
	runCmd.Flags().String("group", "", "Consumer group")
	runCmd.Flags().String("application-id", "", "Application id scoping the snapshot keyspace")
	runCmd.Flags().String("topics", "", "Comma-separated topics to consume")
	runCmd.Flags().String("data-dir", "", "Data directory (defaults to an OS-specific location)")
	runCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	runCmd.Flags().String("status", "", "Status HTTP listen address")
	runCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	runCmd.Flags().String("log-format", "", "Log format: text|json")
	rootCmd.AddCommand(runCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
