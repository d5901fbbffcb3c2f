package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/zip-merge/internal/config"
	"github.com/yourusername/zip-merge/internal/logging"
	"github.com/yourusername/zip-merge/internal/pdf"
	"github.com/yourusername/zip-merge/internal/storage"
)

type mergeFlags struct {
	output   string
	maxFiles int
	order    string
	nested   bool
	verbose  bool
}

var mergeOpts mergeFlags

var mergeCmd = &cobra.Command{
	Use:   "merge <archive.zip>",
	Short: "Merge the PDFs inside an archive into one document",
	Long: `Merge extracts the archive into a temporary directory, merges its PDF
files and writes the result. Sheet names of the first .xlsx workbook are
printed to stderr. The temporary directory is always removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMerge(cmd.Context(), args[0], mergeOpts, cmd.ErrOrStderr())
	},
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOpts.output, "output", "o", "merged.pdf", "path of the merged PDF")
	mergeCmd.Flags().IntVar(&mergeOpts.maxFiles, "max-files", config.DefaultMaxMergeFiles, "maximum number of PDFs to merge")
	mergeCmd.Flags().StringVar(&mergeOpts.order, "order", config.MergeOrderLexical, "merge order: lexical or archive")
	mergeCmd.Flags().BoolVar(&mergeOpts.nested, "nested", false, "include PDFs in subdirectories")
	mergeCmd.Flags().BoolVarP(&mergeOpts.verbose, "verbose", "v", false, "log progress to stderr")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(ctx context.Context, archivePath string, opts mergeFlags, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := config.Default()
	cfg.MaxMergeFiles = opts.maxFiles
	cfg.MergeOrder = opts.order
	cfg.ScanNested = opts.nested
	workDir, err := os.MkdirTemp("", "zipmerge-*")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)
	cfg.WorkDir = workDir
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.New(level, "text", stderr)

	store, err := storage.NewLocal(workDir)
	if err != nil {
		return err
	}
	svc, err := pdf.NewService(cfg, store, logger)
	if err != nil {
		return err
	}

	upload, err := pdf.LoadUpload(archivePath, filepath.Base(archivePath))
	if err != nil {
		return err
	}

	var progress pdf.ProgressReporter
	if opts.verbose {
		progress = func(stage string, percent int) {
			logger.WithFields(logrus.Fields{"stage": stage, "percent": percent}).Debug("progress")
		}
	}

	outcome, err := svc.ProcessArchive(ctx, upload, pdf.ProcessState{}, progress)
	if outcome != nil {
		for _, notice := range outcome.Notices {
			fmt.Fprintln(stderr, notice)
		}
	}
	if err != nil {
		var apiErr *pdf.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
		}
		return err
	}

	if err := os.WriteFile(opts.output, outcome.Document.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.output, err)
	}
	fmt.Fprintf(stderr, "%s: %d files, %d pages, %s\n",
		opts.output, len(outcome.Sources), outcome.TotalPages, humanize.Bytes(uint64(outcome.Document.Len())))
	return nil
}
