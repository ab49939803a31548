// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/woozymasta/casc"
	"github.com/woozymasta/pathrules"
)

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the loaded build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, _, closeSrc, err := a.openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSrc()

			out := cmd.OutOrStdout()
			switch s := src.(type) {
			case *casc.LocalSource:
				fmt.Fprintf(out, "Build:     %s\n", s.Build().BuildName)
				fmt.Fprintf(out, "Indexed:   %s keys\n", humanize.Comma(int64(s.Index().Len())))
			case *casc.RemoteSource:
				fmt.Fprintf(out, "Build:     %s\n", s.Build().BuildName)
				fmt.Fprintf(out, "Version:   %s (%d)\n", s.Version().VersionsName, s.Version().BuildID)
			}

			total, named := src.Root().FileCounts()
			fmt.Fprintf(out, "Root:      v%d, %s files, %s named\n",
				src.Root().Version(), humanize.Comma(int64(total)), humanize.Comma(int64(named)))
			fmt.Fprintf(out, "Encoding:  %s content keys\n", humanize.Comma(int64(src.Encoding().Len())))
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <file-id|name|content-key>",
		Short: "Write one file to stdout or --output",
		Long: `Fetch a single file. The argument is a numeric file ID, a 32 hex digit
content key, or a name looked up in the listfile.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, listfile, closeSrc, err := a.openSource(ctx)
			if err != nil {
				return err
			}
			defer closeSrc()

			r, err := openTarget(ctx, src, listfile, args[0])
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			n, err := io.Copy(w, r)
			if err != nil {
				return err
			}

			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", output, humanize.IBytes(uint64(n)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file; empty or - writes to stdout")
	return cmd
}

// openTarget resolves a get argument to a reader over the file content.
func openTarget(ctx context.Context, src casc.Source, listfile *casc.MapListfile, arg string) (io.Reader, error) {
	if ckey, err := casc.ParseKey(arg); err == nil {
		data, err := src.GetFileByContentKey(ctx, ckey)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}

	id, err := resolveFileID(listfile, arg)
	if err != nil {
		return nil, err
	}

	stream, err := src.OpenFile(ctx, id)
	if err != nil {
		return nil, err
	}
	return stream.NewReader(ctx), nil
}

func (a *app) exportCmd() *cobra.Command {
	var (
		all       bool
		workers   int
		overwrite bool
		include   []string
		filter    casc.FileFilter
	)

	cmd := &cobra.Command{
		Use:   "export <out-dir> [file-id|name ...]",
		Short: "Export many files into a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, listfile, closeSrc, err := a.openSource(ctx)
			if err != nil {
				return err
			}
			defer closeSrc()

			var ids []uint32
			if all {
				for _, p := range include {
					filter.Rules = append(filter.Rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
				}

				so, err := a.cfg.SourceOptions()
				if err != nil {
					return err
				}
				filter.Locale = so.Locale

				var namer casc.FileNamer
				if listfile != nil {
					namer = listfile
				}

				if ids, err = casc.SelectFiles(src.Root(), src.Encoding(), namer, filter); err != nil {
					return err
				}
			} else {
				for _, arg := range args[1:] {
					id, err := resolveFileID(listfile, arg)
					if err != nil {
						return err
					}
					ids = append(ids, id)
				}
			}

			if len(ids) == 0 {
				return fmt.Errorf("nothing to export: pass file IDs or --all")
			}

			errOut := cmd.ErrOrStderr()
			opts := casc.ExportOptions{
				MaxWorkers: workers,
				Overwrite:  overwrite,
				OnFileDone: func(fileID uint32, _ string, _ int64, err error) {
					if err != nil {
						fmt.Fprintf(errOut, "%d: %v\n", fileID, err)
					}
				},
			}
			if listfile != nil {
				opts.Namer = listfile
			}

			res, err := casc.Export(ctx, src, ids, args[0], opts)
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s files (%s), %s failed\n",
				humanize.Comma(int64(res.Succeeded)), humanize.IBytes(uint64(res.Written)), humanize.Comma(int64(res.Failed)))
			if err != nil {
				return err
			}

			if res.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", res.Failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "export every file ID of the root table that passes the filters")
	cmd.Flags().StringVar(&filter.Prefix, "prefix", "", "with --all: keep listfile names under this directory")
	cmd.Flags().StringSliceVar(&include, "include", nil, "with --all: keep listfile names matching these globs")
	cmd.Flags().Uint64Var(&filter.MinSize, "min-size", 0, "with --all: skip files smaller than this many bytes")
	cmd.Flags().BoolVar(&filter.NamedOnly, "named-only", false, "with --all: skip files without a listfile name")
	cmd.Flags().BoolVar(&filter.ASCIIOnly, "ascii-only", false, "with --all: skip names with non-ASCII bytes")
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "export workers (0 means GOMAXPROCS)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing output files")
	return cmd
}

// resolveFileID parses a numeric file ID or looks a name up in the listfile.
func resolveFileID(listfile *casc.MapListfile, arg string) (uint32, error) {
	if id, err := strconv.ParseUint(arg, 10, 32); err == nil {
		return uint32(id), nil
	}

	if listfile == nil {
		return 0, fmt.Errorf("%w: %q", casc.ErrNoListfile, arg)
	}

	id, ok := listfile.FileID(arg)
	if !ok {
		return 0, fmt.Errorf("%w: %q", casc.ErrNameNotFound, arg)
	}

	return id, nil
}
