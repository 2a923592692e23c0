// output.go: colored terminal output for the modhub CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// fatih/color disables itself when the output is not a terminal.
var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	valueColor   = color.New(color.FgHiBlack)
)

type printer struct {
	out  io.Writer
	json bool
}

func (p *printer) section(title string) {
	_, _ = fmt.Fprintln(p.out)
	_, _ = headerColor.Fprintf(p.out, "▸ %s\n", title)
}

func (p *printer) success(msg string) {
	_, _ = successColor.Fprintf(p.out, "✓ %s\n", msg)
}

func (p *printer) warning(msg string) {
	_, _ = warningColor.Fprintf(p.out, "⚠ %s\n", msg)
}

func (p *printer) failure(msg string) {
	_, _ = errorColor.Fprintf(p.out, "✗ %s\n", msg)
}

func (p *printer) item(msg string) {
	_, _ = infoColor.Fprintf(p.out, "  • %s\n", msg)
}

func (p *printer) labelValue(label, value string) {
	_, _ = labelColor.Fprintf(p.out, "  %s: ", label)
	_, _ = valueColor.Fprintln(p.out, value)
}

func (p *printer) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	_, _ = fmt.Fprint(p.out, "  ")
	for i, h := range headers {
		if i > 0 {
			_, _ = fmt.Fprint(p.out, "  ")
		}
		_, _ = headerColor.Fprintf(p.out, "%-*s", widths[i], h)
	}
	_, _ = fmt.Fprintln(p.out)

	_, _ = fmt.Fprint(p.out, "  ")
	for i, w := range widths {
		if i > 0 {
			_, _ = fmt.Fprint(p.out, "  ")
		}
		_, _ = fmt.Fprint(p.out, strings.Repeat("-", w))
	}
	_, _ = fmt.Fprintln(p.out)

	for _, row := range rows {
		_, _ = fmt.Fprint(p.out, "  ")
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if i > 0 {
				_, _ = fmt.Fprint(p.out, "  ")
			}
			_, _ = valueColor.Fprintf(p.out, "%-*s", widths[i], cell)
		}
		_, _ = fmt.Fprintln(p.out)
	}
}

func (p *printer) emitJSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func count(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
