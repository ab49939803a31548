// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
)

// exportCopyBufferSize is the per-worker copy buffer.
const exportCopyBufferSize = 64 * 1024

// ExportResult tallies a batch export. One failed file never stops the batch.
type ExportResult struct {
	// Errors holds the failure of every file that was not written.
	Errors map[uint32]error `json:"-" yaml:"-"`
	// Written is the total number of bytes written.
	Written int64 `json:"written" yaml:"written"`
	// Succeeded is the number of files written.
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	// Failed is the number of files not written.
	Failed int `json:"failed" yaml:"failed"`
}

// exportWorkItem is one file ID with its prepared output path.
type exportWorkItem struct {
	relPath string
	err     error
	fileID  uint32
}

// exportOutcome is the result of one work item.
type exportOutcome struct {
	err     error
	written int64
	fileID  uint32
}

// Export writes the given files below dstDir using a worker pool. Per-file
// failures are collected in the result; the returned error is reserved for
// setup failures and context cancellation.
func Export(ctx context.Context, src Source, fileIDs []uint32, dstDir string, opts ExportOptions) (ExportResult, error) {
	res := ExportResult{Errors: make(map[uint32]error)}
	if len(fileIDs) == 0 {
		return res, nil
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = max(1, min(workers, len(fileIDs)))

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return res, fmt.Errorf("resolve output dir: %w", err)
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}

	taskCh := make(chan exportWorkItem)
	outCh := make(chan exportOutcome, len(fileIDs))

	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			copyBuf := make([]byte, exportCopyBufferSize)
			for task := range taskCh {
				outcome := exportOutcome{fileID: task.fileID, err: task.err}
				outPath := ""
				if outcome.err == nil {
					outPath = filepath.Join(dstRootAbs, filepath.FromSlash(task.relPath))
					outcome.written, outcome.err = exportFile(ctx, src, task.fileID, outPath, opts.Overwrite, copyBuf)
				}

				if opts.OnFileDone != nil {
					opts.OnFileDone(task.fileID, outPath, outcome.written, outcome.err)
				}

				outCh <- outcome
			}
		})
	}

	var cancelErr error
feed:
	for _, id := range fileIDs {
		task := exportWorkItem{fileID: id}
		task.relPath, task.err = exportName(id, opts)

		select {
		case <-ctx.Done():
			cancelErr = ctx.Err()
			break feed
		case taskCh <- task:
		}
	}

	close(taskCh)
	wg.Wait()
	close(outCh)

	for o := range outCh {
		if o.err != nil {
			res.Failed++
			res.Errors[o.fileID] = o.err
			continue
		}

		res.Succeeded++
		res.Written += o.written
	}

	return res, cancelErr
}

// exportName picks and sanitizes the relative output name of fileID.
func exportName(fileID uint32, opts ExportOptions) (string, error) {
	name, ok := opts.Names[fileID]
	if !ok && opts.Namer != nil {
		name, ok = opts.Namer.Name(fileID)
	}

	if !ok || name == "" {
		return strconv.FormatUint(uint64(fileID), 10) + ".bin", nil
	}

	return SanitizeExportPath(name)
}

// exportFile streams one file to outPath. A partially written file is removed.
func exportFile(ctx context.Context, src Source, fileID uint32, outPath string, overwrite bool, copyBuf []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	stream, err := src.OpenFile(ctx, fileID)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	file, err := os.OpenFile(outPath, flags, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", outPath, err)
	}

	written, copyErr := io.CopyBuffer(file, stream.NewReader(ctx), copyBuf)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(outPath)
		return 0, &FileError{FileID: fileID, Err: copyErr}
	}

	if closeErr != nil {
		_ = os.Remove(outPath)
		return 0, fmt.Errorf("close %s: %w", outPath, closeErr)
	}

	return written, nil
}
