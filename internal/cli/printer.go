package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"segclient/internal/store"
)

// printer renders command output: colored status lines and tables for
// people, or indented JSON with --json.
type printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool

	ok, warn, bad, note, dim *color.Color
}

// syncWriter serializes writes; duplex callbacks print from the reader
// goroutine while commands print from their own.
type syncWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (s syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}

func newPrinter(out, errOut io.Writer, noColor, asJSON bool) *printer {
	mu := &sync.Mutex{}
	out, errOut = syncWriter{mu, out}, syncWriter{mu, errOut}
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if noColor {
			c.DisableColor()
		}
		return c
	}
	return &printer{
		out:    out,
		errOut: errOut,
		json:   asJSON,
		ok:     mk(color.FgGreen),
		warn:   mk(color.FgYellow),
		bad:    mk(color.FgRed, color.Bold),
		note:   mk(color.FgCyan),
		dim:    mk(color.Faint),
	}
}

// emit writes v as JSON in --json mode and calls human otherwise.
func (p *printer) emit(v any, human func()) error {
	if !p.json {
		human()
		return nil
	}
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// status lines go to stderr in --json mode so stdout stays parseable.
func (p *printer) statusOut() io.Writer {
	if p.json {
		return p.errOut
	}
	return p.out
}

func (p *printer) successf(format string, a ...any) {
	p.ok.Fprintf(p.statusOut(), "✓ "+format+"\n", a...)
}

func (p *printer) warnf(format string, a ...any) {
	p.warn.Fprintf(p.statusOut(), "! "+format+"\n", a...)
}

func (p *printer) infof(format string, a ...any) {
	p.note.Fprintf(p.statusOut(), "· "+format+"\n", a...)
}

func (p *printer) errorf(format string, a ...any) {
	p.bad.Fprintf(p.errOut, "error: "+format+"\n", a...)
}

func (p *printer) toast(t store.Toast) {
	switch t.Type {
	case store.ToastSuccess:
		p.successf("%s", t.Message)
	case store.ToastWarning:
		p.warnf("%s", t.Message)
	case store.ToastError:
		p.bad.Fprintf(p.statusOut(), "✗ %s\n", t.Message)
	default:
		p.infof("%s", t.Message)
	}
}

// table prints rows under an upper-case header, columns aligned. The
// header is not colored since escape codes would skew the alignment.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(header, "\t")))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

// kv prints aligned key/value pairs.
func (p *printer) kv(pairs ...string) {
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(tw, "%s\t%s\n", p.dim.Sprint(pairs[i]+":"), pairs[i+1])
	}
	_ = tw.Flush()
}

// params formats a parameter map as sorted k=v pairs.
func params(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}
