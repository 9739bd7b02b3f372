// Package xmlwriter is a minimal incremental UTF-8 XML stream writer. It
// writes well-formed XML as a sequence of emit calls; it does not build or
// validate a tree — opens and closes are the caller's responsibility,
// exactly as spec'd: "this is a stream writer, not a tree builder."
package xmlwriter

import (
	"bufio"
	"os"
	"strings"

	"github.com/vers-project/veobuilder/errcode"
)

const versNamespaceAttr = `xmlns:vers="http://www.prov.vic.gov.au/VERS"`

const moduleName = "xmlwriter"

// Attr is a single XML attribute rendered as name="escaped-value".
type Attr struct {
	Name  string
	Value string
}

// Writer streams XML to an underlying file, tracking nesting depth so
// emit_complex_open/emit_complex_close can indent their output.
type Writer struct {
	file   *os.File
	buf    *bufio.Writer
	root   string
	indent int
}

// Start opens path for writing, emits the XML prolog, and opens the root
// element with the VERS namespace declaration.
func Start(path, root string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errcode.Wrapf(errcode.CodeXMLWriterCreateFailed, errcode.Recoverable,
			moduleName, "Start", err, "cannot create %s", path)
	}
	w := &Writer{file: f, buf: bufio.NewWriter(f), root: root}
	if _, err := w.buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="no" ?>`); err != nil {
		return nil, w.writeErr("Start", err)
	}
	if _, err := w.buf.WriteString("\n<" + root + " " + versNamespaceAttr + ">\n"); err != nil {
		return nil, w.writeErr("Start", err)
	}
	w.indent = 1
	return w, nil
}

func (w *Writer) writeErr(method string, err error) error {
	return errcode.Wrapf(errcode.CodeXMLWriterWriteFailed, errcode.Recoverable,
		moduleName, method, err, "write failed")
}

func (w *Writer) prefix() string {
	if w.indent <= 0 {
		return ""
	}
	return strings.Repeat("  ", w.indent)
}

// WriteLiteral writes s verbatim. The caller asserts s is already
// well-formed XML text.
func (w *Writer) WriteLiteral(s string) error {
	if s == "" {
		return nil
	}
	if _, err := w.buf.WriteString(s); err != nil {
		return w.writeErr("WriteLiteral", err)
	}
	return nil
}

// WriteEscapedValue writes s with the five XML special characters
// replaced by entity references. A null/empty s produces no output.
func (w *Writer) WriteEscapedValue(s string) error {
	if s == "" {
		return nil
	}
	if _, err := w.buf.WriteString(EscapeText(s)); err != nil {
		return w.writeErr("WriteEscapedValue", err)
	}
	return nil
}

// EscapeText replaces the five XML special characters with entity
// references. The replacer makes a single pass, so the '&' of an
// inserted entity is never escaped a second time.
func EscapeText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

func formatAttrs(attrs []Attr) string {
	if len(attrs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name)
		b.WriteString(`="`)
		b.WriteString(EscapeText(a.Value))
		b.WriteByte('"')
	}
	return b.String()
}

// EmitSimpleElement emits <tag attrs>value</tag> with value escaped, or
// <tag attrs/> when value is empty/blank.
func (w *Writer) EmitSimpleElement(tag string, attrs []Attr, value string) error {
	prefix := w.prefix()
	attrStr := formatAttrs(attrs)
	var s string
	if strings.TrimSpace(value) == "" {
		s = prefix + "<" + tag + attrStr + "/>\n"
	} else {
		s = prefix + "<" + tag + attrStr + ">" + EscapeText(value) + "</" + tag + ">\n"
	}
	if _, err := w.buf.WriteString(s); err != nil {
		return w.writeErr("EmitSimpleElement", err)
	}
	return nil
}

// EmitComplexOpen writes an opening tag and increments the indent level.
func (w *Writer) EmitComplexOpen(tag string, attrs []Attr) error {
	s := w.prefix() + "<" + tag + formatAttrs(attrs) + ">\n"
	w.indent++
	if _, err := w.buf.WriteString(s); err != nil {
		return w.writeErr("EmitComplexOpen", err)
	}
	return nil
}

// EmitComplexClose decrements the indent level and writes a closing tag.
// No validation that opens and closes match — this is a stream writer.
func (w *Writer) EmitComplexClose(tag string) error {
	if w.indent > 0 {
		w.indent--
	}
	s := w.prefix() + "</" + tag + ">\n"
	if _, err := w.buf.WriteString(s); err != nil {
		return w.writeErr("EmitComplexClose", err)
	}
	return nil
}

// End writes the root element's closing tag and closes the file.
func (w *Writer) End() error {
	if _, err := w.buf.WriteString("</" + w.root + ">\n"); err != nil {
		return w.writeErr("End", err)
	}
	if err := w.buf.Flush(); err != nil {
		return w.writeErr("End", err)
	}
	if err := w.file.Close(); err != nil {
		return errcode.Wrapf(errcode.CodeXMLWriterCloseFailed, errcode.Recoverable,
			moduleName, "End", err, "close failed")
	}
	return nil
}

// Abort flushes and closes the underlying file without writing a closing
// tag, used when a VEO is abandoned mid-stream.
func (w *Writer) Abort() error {
	_ = w.buf.Flush()
	return w.file.Close()
}
