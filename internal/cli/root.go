package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrEthical07/trustplane"
	"github.com/MrEthical07/trustplane/geo"
	"github.com/MrEthical07/trustplane/logger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type app struct {
	configPath     string
	redisAddr      string
	privateKeyPath string
	publicKeyPath  string
	logLevel       string

	stderr io.Writer
}

// runtime is everything a command needs, released by close.
type runtime struct {
	file    FileConfig
	engine  *trustplane.Engine
	logger  zerolog.Logger
	closers []func() error
}

func (r *runtime) close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRootCommand returns the trustplane command tree.
func NewRootCommand() *cobra.Command {
	a := &app{stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "trustplane",
		Short: "Request admission and session trust plane",
		Long: `trustplane admits requests with per-route sliding window limits and launch
gates, issues and rotates session tokens, and scans session history for
anomalies. All state lives in Redis so every instance shares it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("TRUSTPLANE_CONFIG"), "Path to YAML configuration file (or TRUSTPLANE_CONFIG)")
	root.PersistentFlags().StringVar(&a.redisAddr, "redis-addr", "", "Redis address, overrides redis.addrs")
	root.PersistentFlags().StringVar(&a.privateKeyPath, "private-key", os.Getenv("TRUSTPLANE_PRIVATE_KEY_FILE"), "Signing key file (or TRUSTPLANE_PRIVATE_KEY_FILE)")
	root.PersistentFlags().StringVar(&a.publicKeyPath, "public-key", os.Getenv("TRUSTPLANE_PUBLIC_KEY_FILE"), "Ed25519 verification key file (or TRUSTPLANE_PUBLIC_KEY_FILE)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level, overrides log.level")

	root.AddCommand(a.serveCommand())
	root.AddCommand(a.launchCommand())
	root.AddCommand(a.sessionsCommand())
	root.AddCommand(a.anomalyCommand())
	return root
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open loads configuration and builds an engine. Operator commands pass
// issuesTokens=false and get an ephemeral key when none is configured.
func (a *app) open(issuesTokens bool) (*runtime, error) {
	file, err := LoadFileConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.redisAddr != "" {
		file.Redis.Addrs = []string{a.redisAddr}
	}
	if a.logLevel != "" {
		file.Log.Level = a.logLevel
	}
	cfg := file.Config
	if err := loadKeys(&cfg, a.privateKeyPath, a.publicKeyPath); err != nil {
		return nil, err
	}
	if !issuesTokens && len(cfg.Token.PrivateKey) == 0 {
		if err := useEphemeralKey(&cfg); err != nil {
			return nil, err
		}
	}

	rt := &runtime{file: file}
	log, logCloser, err := logger.New(cfg.Log, a.stderr)
	if err != nil {
		return nil, err
	}
	rt.logger = log
	rt.closers = append(rt.closers, logCloser.Close)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    file.Redis.Addrs,
		Username: file.Redis.Username,
		Password: file.Redis.Password,
		DB:       file.Redis.DB,
	})
	rt.closers = append(rt.closers, rdb.Close)

	builder := trustplane.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(log)
	if file.GeoIPDatabase != "" {
		resolver, err := geo.OpenGeoIP(file.GeoIPDatabase)
		if err != nil {
			_ = rt.close()
			return nil, err
		}
		rt.closers = append(rt.closers, resolver.Close)
		builder.WithGeoResolver(resolver)
	}

	engine, err := builder.Build()
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	rt.engine = engine
	rt.closers = append(rt.closers, func() error {
		engine.Close()
		return nil
	})
	return rt, nil
}

// withRuntime opens an operator runtime, runs fn and releases it.
func (a *app) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := a.open(false)
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(cmd.Context(), rt)
}
