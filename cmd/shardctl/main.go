// Command shardctl boots a shard fleet from a FleetConfig and exposes the
// operational surface around it: an HTTP health/metrics listener for the
// fleet and a connectivity smoke test, in the spirit of the teacher's own
// cli package (_examples/evalgo-org-eve/cli/root.go) and its
// docker/example-service/main.go counterpart — cobra command tree, viper
// config precedence (file < env < flags), Echo for HTTP, promhttp for
// metrics, logrus-backed structured logging throughout.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/evalgo-org/shardrelay/common"
	"github.com/evalgo-org/shardrelay/config"
	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/version"
)

var cfgFile string

var shardUp = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "shardrelay",
		Name:      "shard_up",
		Help:      "1 if the shard answered a BeginTx/Commit round-trip, 0 otherwise.",
	},
	[]string{"shard"},
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shardctl",
		Short: "operate a shardrelay shard fleet",
		Long: `shardctl loads a shard fleet definition (shards, lock-wait timeout,
the skipReadOnlyTransaction toggle) from a config file, environment
variables prefixed SHARDRELAY_, and command-line flags, in that order of
increasing precedence, and runs fleet-level operational commands against it.`,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to shardrelay.yaml (default: ./shardrelay.yaml or /etc/shardrelay)")
	flags.Int("http-port", 0, "HTTP port for /healthz and /metrics (overrides config)")
	flags.String("log-level", "", "debug|info|warn|error (overrides config)")

	root.AddCommand(pingCmd(flags), serveCmd(flags))
	return root
}

func loadConfig(flags *pflag.FlagSet) (*config.FleetConfig, *common.ContextLogger, error) {
	v := config.NewViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	// Explicit per-key binds, not BindPFlags: pflag names use dashes
	// (http-port) while FleetConfig's mapstructure keys use underscores
	// (http_port), the same mismatch the teacher's cli/root.go works
	// around with individual viper.BindPFlag calls.
	if err := v.BindPFlag("http_port", flags.Lookup("http-port")); err != nil {
		return nil, nil, fmt.Errorf("binding --http-port: %w", err)
	}
	if err := v.BindPFlag("log_level", flags.Lookup("log-level")); err != nil {
		return nil, nil, fmt.Errorf("binding --log-level: %w", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}

	loggerConfig := common.DefaultLoggerConfig()
	loggerConfig.Level = common.LogLevel(cfg.LogLevel)
	loggerConfig.Service = "shardctl"
	loggerConfig.Version = version.GetModuleVersion()

	base := common.NewLogger(loggerConfig)
	logger := common.ServiceLogger(base, loggerConfig.Service, loggerConfig.Version)
	return cfg, logger, nil
}

// buildFleet opens a GormSessionGateway per configured shard, in
// declaration order. Callers must Close every returned gateway.
func buildFleet(ctx context.Context, cfg *config.FleetConfig) ([]db.SessionGateway, error) {
	gateways := make([]db.SessionGateway, 0, len(cfg.Shards))
	for _, shard := range cfg.Shards {
		gw, err := db.NewGormSessionGateway(ctx, shard.Name, shard.DSN)
		if err != nil {
			for _, opened := range gateways {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("opening shard %q: %w", shard.Name, err)
		}
		gateways = append(gateways, gw)
	}
	return gateways, nil
}

func pingCmd(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "open a transaction against every configured shard and report reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			failures := 0
			for _, shard := range cfg.Shards {
				up := pingShard(ctx, shard, logger)
				shardUp.WithLabelValues(shard.Name).Set(boolToFloat(up))
				if !up {
					failures++
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d shards unreachable", failures, len(cfg.Shards))
			}
			logger.Info("all shards reachable")
			return nil
		},
	}
}

func pingShard(ctx context.Context, shard config.ShardDSN, logger *common.ContextLogger) bool {
	entry := logger.WithField("shard", shard.Name)
	reachable := false
	_ = common.LogOperation(entry, "ping", func() error {
		gw, err := db.NewGormSessionGateway(ctx, shard.Name, shard.DSN)
		if err != nil {
			entry.WithFields(common.ErrorFields(err, "open shard")).Error("shard unreachable")
			return err
		}
		defer gw.Close()

		tx, err := gw.BeginTx(ctx, true)
		if err != nil {
			entry.WithFields(common.ErrorFields(err, "begin tx")).Error("begin tx failed")
			return err
		}
		if err := tx.Commit(); err != nil {
			entry.WithFields(common.ErrorFields(err, "commit")).Error("commit failed")
			return err
		}
		reachable = true
		return nil
	})
	return reachable
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func serveCmd(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve /healthz and /metrics for the shard fleet until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}

			gateways, err := buildFleet(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				for _, gw := range gateways {
					_ = gw.Close()
				}
			}()

			e := echo.New()
			e.HideBanner = true
			e.Use(requestLoggerMiddleware(logger))
			e.Use(middleware.Recover())

			e.GET("/healthz", healthzHandler(cfg, gateways))
			e.GET("/version", versionHandler())
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			addr := fmt.Sprintf(":%d", cfg.HTTPPort)
			go func() {
				defer common.LogPanic(logger)
				logger.WithField("addr", addr).Info("shardctl serve listening")
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Fatal("http server failed")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit

			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(ctx)
		},
	}
}

// healthzHandler reports per-shard reachability (spec.md §6's `/healthz`
// surface) by running the same BeginTx/Commit round-trip ping uses, and
// updates the shard_up gauge each call so a scrape always reflects the
// check that produced the HTTP response, not a stale background value.
func healthzHandler(cfg *config.FleetConfig, gateways []db.SessionGateway) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := make(map[string]string, len(gateways))
		healthy := true
		for i, gw := range gateways {
			start := time.Now()
			tx, err := gw.BeginTx(ctx, true)
			ok := err == nil
			if ok {
				ok = tx.Commit() == nil
			}
			name := cfg.Shards[i].Name
			shardUp.WithLabelValues(name).Set(boolToFloat(ok))
			common.NewContextLogger(nil, common.DatabaseFields("healthz-ping", name, 0, time.Since(start))).Debug("healthz shard check")
			if ok {
				status[name] = "up"
			} else {
				status[name] = "down"
				healthy = false
			}
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]interface{}{
			"status":  status,
			"healthy": healthy,
		})
	}
}

// versionHandler exposes the binary's build and dependency provenance
// (spec.md's operational surface) for support and upgrade triage.
func versionHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, version.GetBuildInfo())
	}
}

// requestLoggerMiddleware replaces echo's default access log with one routed
// through the configured service logger, so request logs share the same
// fields (service, version, module_version) as the rest of shardctl's output.
func requestLoggerMiddleware(logger *common.ContextLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			entry := common.RequestLogger("shardctl", req.Method, req.URL.Path, c.Response().Header().Get(echo.HeaderXRequestID))
			entry = entry.WithFields(common.HTTPFields(req.Method, req.URL.Path, c.Response().Status, time.Since(start)))
			if err != nil {
				entry.WithError(err).Error("request failed")
			} else {
				entry.Info("request handled")
			}
			return err
		}
	}
}
