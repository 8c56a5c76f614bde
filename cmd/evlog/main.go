package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clientcmd "github.com/rzbill/evlog/internal/cmd/client"
	serverrun "github.com/rzbill/evlog/internal/cmd/server"
	cfgpkg "github.com/rzbill/evlog/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "evlog",
		Short:         "evlog meter event log",
		Long:          "evlog stores meter events in two fixed-size partitions and delivers high priority alarms. This CLI runs the server and talks to its HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start evlog server (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			grpcAddr, _ := cmd.Flags().GetString("grpc")
			httpAddr, _ := cmd.Flags().GetString("http")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{GRPCAddr: grpcAddr, HTTPAddr: httpAddr, Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	addConfigFlags(serverStartCmd)
	serverStartCmd.Flags().String("grpc", ":50051", "gRPC listen address")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverCmd.AddCommand(serverStartCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Configuration commands"}
	configPrintCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	addConfigFlags(configPrintCmd)
	configCmd.AddCommand(configPrintCmd)

	rootCmd.AddCommand(serverCmd, configCmd)
	clientcmd.AddCommands(rootCmd, clientcmd.BaseURLFromEnv)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", os.Getenv("EVLOG_CONFIG"), "Config file (.json, .yaml or .yml)")
	cmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	cmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", "", "Log format: text|json")
	cmd.Flags().String("uplink", "", "Alarm uplink: log|redis")
	cmd.Flags().String("redis-addr", "", "Redis address for the redis uplink")
}

// loadConfig layers defaults or the config file, EVLOG_* variables and
// explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	cfg := cfgpkg.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := cfgpkg.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfgpkg.FromEnv(&cfg)

	set := func(name string, dst *string) {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
	set("data-dir", &cfg.DataDir)
	set("fsync", &cfg.Fsync)
	set("log-level", &cfg.Log.Level)
	set("log-format", &cfg.Log.Format)
	set("uplink", &cfg.Uplink.Kind)
	set("redis-addr", &cfg.Uplink.RedisAddr)
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	return cfg, cfg.Validate()
}
