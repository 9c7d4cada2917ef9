// Package report renders builder and cohort metrics as console tables,
// JSON/YAML, CSV, XLSX workbooks and HTML summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Format is a console output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format value. Empty means auto-detect.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatTable, FormatJSON, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q: must be one of table, json, yaml", s)
	}
}

// DetectFormat returns the explicit format, else table on a terminal and
// JSON when stdout is piped.
func DetectFormat(explicit Format) Format {
	if explicit != "" {
		return explicit
	}
	fd := os.Stdout.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return FormatTable
	}
	return FormatJSON
}

// Encode writes v as indented JSON or YAML.
func Encode(w io.Writer, f Format, v any) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("format %q is not an encoding", f)
	}
}

// Style controls how numbers are written: Plain for files, Human for
// people.
type Style int

const (
	Plain Style = iota
	Human
)

var printer = message.NewPrinter(language.English)

// Int formats a count.
func (s Style) Int(n int64) string {
	if s == Human {
		return printer.Sprintf("%d", n)
	}
	return strconv.FormatInt(n, 10)
}

// Float formats a value with prec decimals.
func (s Style) Float(f float64, prec int) string {
	if s == Human {
		return printer.Sprintf(fmt.Sprintf("%%.%df", prec), f)
	}
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// Rating formats a weighted rating. Unrated is blank in files and "n/a"
// on screen.
func (s Style) Rating(r *float64) string {
	if r == nil {
		if s == Human {
			return "n/a"
		}
		return ""
	}
	return s.Float(*r, 2)
}

// Percent formats a share as "12.3%".
func (s Style) Percent(p float64) string {
	return s.Float(p, 1) + "%"
}

func rated(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
