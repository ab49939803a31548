// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/woozymasta/casc"
	"go.uber.org/zap"
)

func (a *app) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the decryption key ring",
	}

	add := &cobra.Command{
		Use:   "add <name> <key>",
		Short: "Add a 16 hex digit key name with its 32 hex digit key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.KeysFile == "" {
				return errors.New("no key file: pass --keys or set keys_file")
			}

			ring, err := a.openKeyRing(cmd.Context())
			if err != nil {
				return err
			}

			if !ring.Add(args[0], args[1]) {
				_ = ring.Close()
				return fmt.Errorf("%w: %s %s", casc.ErrInvalidKey, args[0], args[1])
			}

			return ring.Close()
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List known key names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ring, err := a.openKeyRing(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = ring.Close() }()

			out := cmd.OutOrStdout()
			for _, name := range ring.Names() {
				fmt.Fprintln(out, name)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s keys\n", humanize.Comma(int64(ring.Len())))
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func (a *app) hostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "Rank CDN hosts of the current build by latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.flags.localDir != "" {
				return errors.New("hosts needs a CDN source; drop --local")
			}

			src, _, closeSrc, err := a.openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSrc()

			remote, ok := src.(*casc.RemoteSource)
			if !ok {
				return errors.New("not a CDN source")
			}

			hosts, err := remote.Hosts(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, h := range hosts {
				fmt.Fprintf(out, "%2d  %-40s %8s\n", i+1, h.Host, h.Latency.Round(time.Millisecond))
			}
			return nil
		},
	}
}

func (a *app) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the build cache",
	}

	var expiry time.Duration
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Remove build caches not used within the expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.CacheDir == "" {
				return errors.New("no cache directory: pass --cache-dir or set cache_dir")
			}

			if expiry <= 0 {
				expiry = a.cfg.CacheExpiry
			}

			res, err := casc.SweepBuildCaches(a.cfg.CacheDir, expiry, a.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, dir := range res.Removed {
				fmt.Fprintf(out, "removed %s\n", dir)
			}
			a.logger.Info("cache sweep done",
				zap.Int("removed", len(res.Removed)),
				zap.Int("kept", res.Kept),
				zap.Int("failed", res.Failed),
				zap.String("expiry", humanize.RelTime(time.Now().Add(-expiry), time.Now(), "", "")),
			)

			if res.Failed > 0 {
				return fmt.Errorf("%d cache directories could not be removed", res.Failed)
			}
			return nil
		},
	}
	sweep.Flags().DurationVar(&expiry, "expiry", 0, "idle time after which a build cache is removed (default from config)")

	cmd.AddCommand(sweep)
	return cmd
}
