package console

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// printer writes operator-facing lines, optionally colored.
type printer struct {
	w       io.Writer
	success *color.Color
	failure *color.Color
	info    *color.Color
	header  *color.Color
}

func newPrinter(w io.Writer, colored bool) *printer {
	p := &printer{
		w:       w,
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed),
		info:    color.New(color.FgYellow),
		header:  color.New(color.FgCyan, color.Bold),
	}
	for _, c := range []*color.Color{p.success, p.failure, p.info, p.header} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) line(c *color.Color, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c != nil {
		msg = c.Sprint(msg)
	}
	fmt.Fprintln(p.w, msg)
}

func (p *printer) plainf(format string, args ...any)   { p.line(nil, format, args...) }
func (p *printer) successf(format string, args ...any) { p.line(p.success, format, args...) }
func (p *printer) errorf(format string, args ...any)   { p.line(p.failure, format, args...) }
func (p *printer) infof(format string, args ...any)    { p.line(p.info, format, args...) }
func (p *printer) headerf(format string, args ...any)  { p.line(p.header, format, args...) }
