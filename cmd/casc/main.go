// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

// Command casc reads files from local CASC installs and the TACT CDN.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/woozymasta/casc"
	"go.uber.org/zap"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile  string
	localDir    string
	listfile    string
	keysFile    string
	locale      string
	region      string
	product     string
	cacheDir    string
	metricsAddr string
	verbose     bool
}

// app carries state built once per invocation.
type app struct {
	cfg     *casc.Config
	logger  *zap.Logger
	metrics *casc.Metrics
	flags   globalFlags
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "casc",
		Short: "Read files from CASC storage",
		Long: `Read-only client for CASC content storage.
Files come from a local game install (--local) or from the TACT CDN.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVarP(&a.flags.configFile, "config", "c", "", "YAML config file")
	f.StringVar(&a.flags.localDir, "local", "", "game install directory; empty reads from the CDN")
	f.StringVar(&a.flags.listfile, "listfile", "", "id;name listfile")
	f.StringVar(&a.flags.keysFile, "keys", "", "key ring JSON file")
	f.StringVar(&a.flags.locale, "locale", "", "locale such as enUS")
	f.StringVar(&a.flags.region, "region", "", "CDN region")
	f.StringVar(&a.flags.product, "product", "", "product code")
	f.StringVar(&a.flags.cacheDir, "cache-dir", "", "build cache directory")
	f.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		a.infoCmd(),
		a.getCmd(),
		a.exportCmd(),
		a.keysCmd(),
		a.hostsCmd(),
		a.cacheCmd(),
	)

	return rootCmd
}

// setup loads the config, applies flag overrides and builds the logger.
func (a *app) setup(ctx context.Context) error {
	cfg := casc.DefaultConfig()
	if a.flags.configFile != "" {
		loaded, err := casc.LoadConfig(a.flags.configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	for dst, v := range map[*string]string{
		&cfg.Listfile: a.flags.listfile,
		&cfg.KeysFile: a.flags.keysFile,
		&cfg.Locale:   a.flags.locale,
		&cfg.Region:   a.flags.region,
		&cfg.Product:  a.flags.product,
		&cfg.CacheDir: a.flags.cacheDir,
	} {
		if v != "" {
			*dst = v
		}
	}

	if a.flags.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := casc.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger

	if a.flags.metricsAddr != "" {
		return a.serveMetrics(ctx)
	}

	return nil
}

// serveMetrics exposes a private registry until ctx ends.
func (a *app) serveMetrics(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	m, err := casc.NewMetrics(reg)
	if err != nil {
		return err
	}
	a.metrics = m

	srv := &http.Server{
		Addr:              a.flags.metricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	return nil
}

// openKeyRing loads the configured key ring. The caller closes it.
func (a *app) openKeyRing(ctx context.Context) (*casc.KeyRing, error) {
	opts := a.cfg.KeyRingOptions()
	opts.Logger = a.logger
	ring := casc.NewKeyRing(opts)
	if err := ring.Load(ctx); err != nil {
		return nil, err
	}

	return ring, nil
}

// openSource opens the local install or the CDN build. The returned close
// function releases the source and the key ring.
func (a *app) openSource(ctx context.Context) (casc.Source, *casc.MapListfile, func(), error) {
	ring, err := a.openKeyRing(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	var listfile *casc.MapListfile
	if a.cfg.Listfile != "" {
		if listfile, err = casc.LoadListfile(a.cfg.Listfile); err != nil {
			_ = ring.Close()
			return nil, nil, nil, err
		}
	}

	attach := func(so *casc.SourceOptions) {
		so.Keys = ring
		so.Logger = a.logger
		so.Metrics = a.metrics
		if listfile != nil {
			so.Listfile = listfile
		}
	}

	var src casc.Source
	if a.flags.localDir != "" {
		opts, err := a.cfg.LocalOptions()
		if err != nil {
			_ = ring.Close()
			return nil, nil, nil, err
		}
		attach(&opts.SourceOptions)
		src, err = casc.OpenLocal(ctx, a.flags.localDir, opts)
		if err != nil {
			_ = ring.Close()
			return nil, nil, nil, err
		}
	} else {
		opts, err := a.cfg.RemoteOptions()
		if err != nil {
			_ = ring.Close()
			return nil, nil, nil, err
		}
		attach(&opts.SourceOptions)
		opts.Hosts.Logger = a.logger
		opts.Hosts.Metrics = a.metrics
		opts.Cache.Logger = a.logger
		opts.Cache.Metrics = a.metrics
		src, err = casc.OpenRemote(ctx, opts)
		if err != nil {
			_ = ring.Close()
			return nil, nil, nil, err
		}
	}

	closeAll := func() {
		if err := src.Close(); err != nil {
			a.logger.Warn("close source", zap.Error(err))
		}
		if err := ring.Close(); err != nil {
			a.logger.Warn("close key ring", zap.Error(err))
		}
	}

	return src, listfile, closeAll, nil
}
