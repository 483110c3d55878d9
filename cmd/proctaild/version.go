package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

//go:embed help.md
var helpMarkdown string

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the ProcTail version and a short usage summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stdout, "proctaild %s\n\n", version)
			return renderHelp(os.Stdout)
		},
	}
	return cmd
}

// renderHelp converts the embedded Markdown usage summary to HTML and,
// when PROCTAIL_HELP_HTML_DIR is set, writes it to help.html in that
// directory; it then prints the plain Markdown to w so the terminal output
// stays readable.
func renderHelp(w *os.File) error {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(helpMarkdown), &buf); err != nil {
		return err
	}
	if dir := os.Getenv("PROCTAIL_HELP_HTML_DIR"); dir != "" {
		_ = os.WriteFile(dir+"/help.html", buf.Bytes(), 0o644)
	}
	_, err := fmt.Fprintln(w, helpMarkdown)
	return err
}
