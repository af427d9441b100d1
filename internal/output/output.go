// Package output prints styled CLI messages.
package output

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Printer writes styled messages. Errors go to the error writer, everything
// else to the output writer.
type Printer struct {
	out     io.Writer
	errOut  io.Writer
	verbose bool
}

// New returns a Printer writing to out and errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, errOut: errOut}
}

// SetVerbose enables Verbose messages.
func (p *Printer) SetVerbose(v bool) {
	p.verbose = v
}

// Success prints a completed operation.
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.out, successStyle.Render("✓ "+msg))
}

// Error prints a failure that needs attention.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.errOut, errorStyle.Render("✗ "+msg))
}

// Info prints a status line.
func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.out, infoStyle.Render("• "+msg))
}

// Step prints an indented sub-item.
func (p *Printer) Step(msg string) {
	fmt.Fprintln(p.out, stepStyle.Render("   "+msg))
}

// Verbose prints msg only in verbose mode.
func (p *Printer) Verbose(msg string) {
	if p.verbose {
		fmt.Fprintln(p.out, stepStyle.Render("· "+msg))
	}
}

// Plain prints msg unstyled.
func (p *Printer) Plain(msg string) {
	fmt.Fprint(p.out, msg)
}
