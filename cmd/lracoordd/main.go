// Command lracoordd runs the LRA coordinator as a standalone daemon:
// the HTTP API surface (internal/httpapi), the coordinator engine
// (internal/coordinator), and the recovery scanner (internal/recovery)
// wired to one of the object store backends (internal/store/...).
//
// Flag/config layering follows roach88-nysm and sa6mwa-lockd's
// cobra+viper pattern: flags carry the defaults and documentation;
// PersistentPreRunE binds them with viper.BindPFlags, enables
// LRACOORD_-prefixed environment variables and reads an optional config
// file, all of which override the flag defaults; RunE then reads the
// merged result back into an internal/config.Config before starting
// anything.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"lracoord/internal/config"
	"lracoord/internal/coordinator"
	"lracoord/internal/driver"
	"lracoord/internal/httpapi"
	"lracoord/internal/logging"
	"lracoord/internal/recovery"
	"lracoord/internal/store"
	"lracoord/internal/store/filestore"
	"lracoord/internal/store/memstore"
	"lracoord/internal/store/sqlstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	v := viper.New()
	cmd := newRootCommand(v)
	ctx := withSignalCancel(context.Background())
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lracoordd",
		Short: "LRA coordinator daemon",
		Long:  "lracoordd runs a Long-Running Action coordinator: lifecycle engine, recovery scanner, and HTTP API surface.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.BindEnv(v)
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config file: %w", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.FromViper(v))
		},
	}

	cmd.Flags().String("config", "", "path to a config file (yaml/json/toml)")
	config.BindFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile, Stderr: cfg.LogFile == ""})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open object store %q: %w", cfg.StoreType, err)
	}
	defer st.Close()

	drv := driver.New(&http.Client{}, log, driver.DefaultBackoff())
	engine := coordinator.New(cfg.CoordinatorBase, st, drv, log)
	defer engine.Shutdown()

	scanner := recovery.New(st, engine, drv, log, cfg.RecoveryInterval)
	scannerCtx, cancelScanner := context.WithCancel(ctx)
	defer cancelScanner()
	go scanner.Run(scannerCtx)
	defer scanner.Stop()

	handler := httpapi.New(engine, scanner, cfg.CoordinatorBase, log)
	mux := http.NewServeMux()
	handler.Register(mux, cfg.Prefix)

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	log.Info("lracoordd listening", zap.String("addr", cfg.Listen), zap.String("coordinatorBase", cfg.CoordinatorBase))

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-serveErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreType {
	case "", "memory":
		return memstore.New(), nil
	case "file":
		dir := cfg.StoreDir
		if dir == "" {
			dir = "./lracoord-data"
		}
		return filestore.New(dir)
	case "sql":
		return sqlstore.Open(cfg.SQLDSN)
	default:
		return nil, fmt.Errorf("unrecognized store type %q", cfg.StoreType)
	}
}

func withSignalCancel(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}
