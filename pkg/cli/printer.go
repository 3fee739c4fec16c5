// Package cli provides terminal output helpers for the paperwave commands.
package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var bold = color.New(color.Bold).SprintfFunc()

// Printer writes command output to a single destination. Styling degrades
// to plain text when the destination is not a terminal.
type Printer struct {
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out: out,
	}
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Print(a ...any) {
	fmt.Fprint(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// PrintHeading prints a bold section heading.
func (p *Printer) PrintHeading(text string) {
	p.Printf("%s\n", bold(text))
}

// PrintError prints an error message.
func (p *Printer) PrintError(err error) {
	p.Printf("❌ %s\n", err)
}
