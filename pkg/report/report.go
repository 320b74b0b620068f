// Package report writes script output, each line prefixed and colorized by the script name with
// secrets masked, and renders result sets as tables.
package report

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/go-pkgz/stringutils"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"golang.org/x/term"
)

// NullValue is shown for NULL cells
const NullValue = "NULL"

// maxCell limits the rendered width of text and blob cells
const maxCell = 64

// ResultSet is the output of a single statement
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Writer is an io.Writer prefixing each line with the colorized script name. Secrets are replaced
// with "****" wherever they appear as whole words. Writers made by WithScript share the lock,
// so lines of concurrent scripts are never interleaved.
type Writer struct {
	wr         io.Writer
	mu         *sync.Mutex
	script     string
	secrets    []*regexp.Regexp
	monochrome bool
}

// New makes a Writer to wr. Empty and blank secrets are ignored.
func New(wr io.Writer, monochrome bool, secrets []string) *Writer {
	return (&Writer{wr: wr, mu: &sync.Mutex{}, monochrome: monochrome}).WithSecrets(secrets)
}

// WithScript makes a Writer prefixing lines with the script name
func (w *Writer) WithScript(name string) *Writer {
	return &Writer{wr: w.wr, mu: w.mu, script: name, secrets: w.secrets, monochrome: w.monochrome}
}

// WithSecrets makes a Writer masking secrets in addition to the ones w already masks
func (w *Writer) WithSecrets(secrets []string) *Writer {
	res := &Writer{wr: w.wr, mu: w.mu, script: w.script, monochrome: w.monochrome}
	res.secrets = append(res.secrets, w.secrets...)
	for _, s := range stringutils.DeDup(secrets) {
		if stringutils.IsBlank(s) {
			continue
		}
		// matches the secret only if it appears as a whole word
		res.secrets = append(res.secrets, regexp.MustCompile(`\b`+regexp.QuoteMeta(s)+`\b`))
	}
	return res
}

// Printf writes the formatted text
func (w *Writer) Printf(format string, v ...any) {
	fmt.Fprintf(w, format, v...)
}

// Write writes p line by line, each one prefixed with the script name and terminated by a newline.
func (w *Writer) Write(p []byte) (n int, err error) {
	var buf bytes.Buffer
	colorizer := w.colorizer()
	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := w.mask(scanner.Text())
		if w.script != "" {
			line = fmt.Sprintf("[%s] %s", w.script, line)
		}
		buf.WriteString(colorizer("%s", line))
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.wr.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Table renders rs as a table followed by the row count
func (w *Writer) Table(rs ResultSet) error {
	if len(rs.Columns) == 0 {
		return nil
	}
	t := table.NewWriter()
	t.Style().Format.Header = text.FormatDefault // keep column names as is

	header := make(table.Row, len(rs.Columns))
	for i, c := range rs.Columns {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, r := range rs.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = FormatValue(v)
		}
		t.AppendRow(row)
	}

	suffix := "s"
	if len(rs.Rows) == 1 {
		suffix = ""
	}
	_, err := fmt.Fprintf(w, "%s\n(%d row%s)\n", t.Render(), len(rs.Rows), suffix)
	return err
}

// FormatValue renders a cell value, NULL for nil, x'..' hex for blobs. Long cells are truncated.
func FormatValue(v any) string {
	switch vv := v.(type) {
	case nil:
		return NullValue
	case []byte:
		return "x'" + stringutils.Truncate(strings.ToUpper(hex.EncodeToString(vv)), maxCell) + "'"
	case string:
		return stringutils.Truncate(vv, maxCell)
	default:
		return fmt.Sprintf("%v", vv)
	}
}

// IsTerminal reports whether f is a terminal, output to anything else should be monochrome
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits int
}

func (w *Writer) mask(s string) string {
	for _, re := range w.secrets {
		s = re.ReplaceAllString(s, "****")
	}
	return s
}

// colorizer returns a function formatting with a color picked by the script name
func (w *Writer) colorizer() func(format string, a ...any) string {
	colors := []color.Attribute{
		color.FgHiRed, color.FgHiGreen, color.FgHiYellow,
		color.FgHiBlue, color.FgHiMagenta, color.FgHiCyan,
		color.FgRed, color.FgGreen, color.FgYellow,
		color.FgBlue, color.FgMagenta, color.FgCyan,
	}
	if w.monochrome || w.script == "" {
		return fmt.Sprintf
	}
	return color.New(colors[int(crc32.ChecksumIEEE([]byte(w.script))%uint32(len(colors)))]).SprintfFunc()
}
