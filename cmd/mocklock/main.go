package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/mocklock/internal/errx"
)

var rootCmd = &cobra.Command{
	Use:   "mocklock",
	Short: "Serve and manage HTTP mock rules for intercepted network calls",
	Long: `mocklock runs a rule authority behind a Unix-socket relay. Programs that
install the mocklock shim ask the relay about every outgoing request and get
either a synthetic response or permission to reach the real network.

Configuration is read from flags, MOCKLOCK_* environment variables, an
optional .env file in the working directory and an optional config file.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("api", "http://127.0.0.1:7070", "Control API base URL")
	rootCmd.PersistentFlags().Bool("json", false, "Always print JSON output")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	viper.SetEnvPrefix("MOCKLOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: reading config %s: %v\n", path, err)
		}
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errx.With(ErrInvalidLogLevel, " %q", s)
	}
	return level, nil
}

func main() {
	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
