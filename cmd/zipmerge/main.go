// Package main はZIP内のPDFを1つに結合するコマンドラインツールです。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version はビルド時に ldflags で設定します。
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "zipmerge",
	Short: "Merge the PDF files inside a ZIP archive",
	Long: `zipmerge extracts a ZIP archive, merges the PDF files at its top level
in lexical order (at most 100 by default) and writes a single merged.pdf.
If the archive contains an .xlsx workbook, its sheet names are reported.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of zipmerge",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "zipmerge %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
