// Package output renders command results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Field is one labelled line of text output.
type Field struct {
	Name  string
	Value string
}

// Fielder is implemented by results that render as aligned "name: value" lines.
type Fielder interface {
	Fields() []Field
}

// Writer handles output in the specified format.
type Writer struct {
	format Format
	w      io.Writer
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Write outputs the given value in the configured format.
func (w *Writer) Write(v interface{}) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return w.writeText(v)
	}
}

func (w *Writer) writeText(v interface{}) error {
	switch t := v.(type) {
	case Fielder:
		tw := tabwriter.NewWriter(w.w, 0, 0, 1, ' ', 0)
		for _, f := range t.Fields() {
			if _, err := fmt.Fprintf(tw, "%s:\t%s\n", f.Name, f.Value); err != nil {
				return err
			}
		}
		return tw.Flush()
	case fmt.Stringer:
		_, err := fmt.Fprintln(w.w, t.String())
		return err
	default:
		_, err := fmt.Fprintf(w.w, "%+v\n", v)
		return err
	}
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}
