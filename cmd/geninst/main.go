package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"geninst/internal/app"
	"geninst/internal/config"
)

var (
	rootCmd = &cobra.Command{
		Use:           "geninst",
		Short:         "Registry and code generator for concrete instantiations of generic types",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfgFile string

	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		errColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().String("root", "", "project root (overrides project.root)")
	rootCmd.PersistentFlags().String("storage", "", "storage driver: sqlite, file or memory")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	_ = viper.BindPFlag("project.root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("storage.driver", rootCmd.PersistentFlags().Lookup("storage"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(reconcileCmd, requestCmd, listCmd, janitorCmd, verifyCmd, watchCmd, relayCmd)
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := viper.GetString("project.root"); v != "" {
		cfg.Project.Root = v
	}
	if v := viper.GetString("storage.driver"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := viper.GetString("log.level"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp opens the App for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	closeErr := a.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}
