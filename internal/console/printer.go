package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes operator-facing messages. Colors are dropped when the
// output is not a terminal.
type Printer struct {
	out    io.Writer
	errOut io.Writer

	success lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	heading lipgloss.Style
	faint   lipgloss.Style
}

// NewPrinter returns a printer writing to out, and errors to errOut.
func NewPrinter(out, errOut io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	er := lipgloss.NewRenderer(errOut)
	return &Printer{
		out:     out,
		errOut:  errOut,
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:    er.NewStyle().Foreground(lipgloss.Color("3")),
		failure: er.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		heading: r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		faint:   r.NewStyle().Faint(true),
	}
}

func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.success.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) Warn(format string, args ...interface{}) {
	fmt.Fprintln(p.errOut, p.warn.Render("Warning: "+fmt.Sprintf(format, args...)))
}

func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.errOut, p.failure.Render("Error: "+fmt.Sprintf(format, args...)))
}

func (p *Printer) Heading(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.heading.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Step prints a progress line for a provisioning step.
func (p *Printer) Step(name string) {
	fmt.Fprintln(p.out, p.faint.Render("  > "+name))
}

// Table prints rows as left-aligned columns under a heading row.
func (p *Printer) Table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if i == len(cells)-1 || i >= len(widths) {
				parts[i] = c
				continue
			}
			parts[i] = c + strings.Repeat(" ", widths[i]-len(c))
		}
		return strings.Join(parts, "  ")
	}
	fmt.Fprintln(p.out, p.heading.Render(line(header)))
	for _, row := range rows {
		fmt.Fprintln(p.out, line(row))
	}
}
