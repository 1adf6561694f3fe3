package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	FormatYAML OutputFormat = "yaml"
	FormatJSON OutputFormat = "json"
	// FormatText renders snapshots with lipgloss and prints strings as is.
	FormatText OutputFormat = "text"
)

// ParseOutputFormat accepts yaml, json or text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatYAML, FormatJSON, FormatText:
		return f, nil
	case "":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("cli: unsupported output format %q", s)
}

// OutputOptions configures Output.
type OutputOptions struct {
	Format OutputFormat
	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// Output writes result in the requested format.
func Output(result any, opts OutputOptions) error {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("cli: format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatText:
		switch v := result.(type) {
		case string:
			_, err := fmt.Fprintln(w, v)
			return err
		case fmt.Stringer:
			_, err := fmt.Fprintln(w, v.String())
			return err
		}
		return Output(result, OutputOptions{Format: FormatYAML, Writer: w})
	}
	return fmt.Errorf("cli: unsupported output format %q", opts.Format)
}

// PrintSuccess prints a success line to stdout.
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintError prints an error line to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintInfo prints an informational line to stderr so it never mixes with
// streamed output.
func PrintInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ℹ "+format+"\n", args...)
}
