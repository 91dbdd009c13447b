package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openmined/syftupload/internal/client/config"
	"github.com/openmined/syftupload/internal/utils"
	"github.com/openmined/syftupload/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SYFTUP"

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:           "syftupload",
	Short:         "Resumable multipart uploads",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(pf *pflag.FlagSet) {
	pf.SortFlags = false
	pf.StringP("config", "c", config.DefaultConfigPath, "config file")
	pf.String("env-file", ".env", "optional KEY=VALUE file loaded into the environment")
	pf.StringP("server", "s", config.DefaultServerURL, "upload service url")
	pf.StringP("user", "u", "", "user id that owns the upload session")
	pf.String("chunk-size", config.DefaultChunkSize, "part size for new uploads, at least 5MiB")
	pf.String("state", "", "resume state file (default ~/.syftupload/state/uploads.{json,db})")
	pf.String("state-backend", "json", "resume state backend: json or sqlite")
	pf.String("part-timeout", "", "upper bound for a single part, e.g. 2m (default none)")
	pf.Int("api-retries", 0, "retries for idempotent service calls, negative disables")
	pf.BoolP("verbose", "v", false, "debug logging")
}

// flag name -> config key
var flagBindings = map[string]string{
	"server":        "server_url",
	"user":          "user_id",
	"chunk-size":    "chunk_size",
	"state":         "state_path",
	"state-backend": "state_backend",
	"part-timeout":  "part_timeout",
	"api-retries":   "api_retries",
	"http-addr":     "http_addr",
	"http-token":    "http_token",
}

func main() {
	logLevel := slog.LevelInfo
	for _, arg := range os.Args[1:] {
		if arg == "-v" || arg == "--verbose" {
			logLevel = slog.LevelDebug
		}
	}

	logFile, err := openLogFile(config.DefaultLogFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	slog.SetDefault(utils.NewLogger(utils.LogOptions{
		Level:   logLevel,
		Console: os.Stderr,
		File:    logFile,
	}))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

// loadConfig merges flags, SYFTUP_* env, the .env file and the config file, in that order of precedence
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if f := cmd.Flag("env-file"); f != nil {
		if err := config.LoadEnvFile(f.Value.String()); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(resolveConfigPath(cmd))
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for flagName, key := range flagBindings {
		if f := cmd.Flag(flagName); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{
		Path:         v.ConfigFileUsed(),
		ServerURL:    v.GetString("server_url"),
		UserID:       v.GetString("user_id"),
		ChunkSize:    v.GetString("chunk_size"),
		StatePath:    v.GetString("state_path"),
		StateBackend: v.GetString("state_backend"),
		PartTimeout:  v.GetString("part_timeout"),
		APIRetries:   v.GetInt("api_retries"),
		HTTPAddr:     v.GetString("http_addr"),
		HTTPToken:    v.GetString("http_token"),
	}
	return cfg, nil
}

// loadValidConfig is loadConfig + Validate, used by every command that talks to the service
func loadValidConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
