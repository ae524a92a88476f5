// Package reporting renders finished session reports.
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/agent"
)

// Reporter writes a session report to an output.
type Reporter interface {
	// Write renders one report.
	Write(report *schemas.SessionReport) error
	// Close finalizes the report and closes any underlying file handle.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json", "yaml" or "text") writing to
// outputPath, or to stdout when the path is empty or "stdout".
func New(format, outputPath string) (Reporter, error) {
	format = strings.ToLower(format)
	switch format {
	case "json", "yaml", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWriter(format, writer)
}

// NewWriter creates a reporter that takes ownership of w.
func NewWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &jsonReporter{w: w}, nil
	case "yaml":
		return &yamlReporter{w: w}, nil
	case "text":
		return &textReporter{w: w}, nil
	}
	return nil, fmt.Errorf("unsupported output format: %s", format)
}

type jsonReporter struct{ w io.WriteCloser }

func (r *jsonReporter) Write(report *schemas.SessionReport) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report as json: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error { return r.w.Close() }

type yamlReporter struct{ w io.WriteCloser }

func (r *yamlReporter) Write(report *schemas.SessionReport) error {
	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report as yaml: %w", err)
	}
	return enc.Close()
}

func (r *yamlReporter) Close() error { return r.w.Close() }

// textReporter prints a human summary followed by the steps taken.
type textReporter struct{ w io.WriteCloser }

func (r *textReporter) Write(report *schemas.SessionReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", report.SessionID)
	fmt.Fprintf(&b, "Goal:       %s\n", report.Goal)
	if report.StartURL != "" {
		fmt.Fprintf(&b, "Start URL:  %s\n", report.StartURL)
	}
	fmt.Fprintf(&b, "Status:     %s\n", report.Status)
	if report.Reason != "" {
		fmt.Fprintf(&b, "Reason:     %s\n", report.Reason)
	}
	if report.Result != "" {
		fmt.Fprintf(&b, "Result:     %s\n", report.Result)
	}
	fmt.Fprintf(&b, "Iterations: %d in %s\n", report.Iterations, report.Duration().Round(time.Millisecond))

	b.WriteString("\nSteps taken:\n")
	if len(report.History) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, e := range report.History {
		fmt.Fprintf(&b, "- %s\n", agent.EntryLine(e))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *textReporter) Close() error { return r.w.Close() }
