// Package template implements the VEO metadata-package template engine:
// a template file's first line names a schema/syntax URI pair, and the
// rest of the file is literal XML text interleaved with $$-delimited
// substitution tokens, per spec.md §4.6.
package template

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/xmlwriter"
)

const moduleName = "template"

// dateLayout is the canonical ISO-8601-like form used for the "date"
// substitution.
const dateLayout = "2006-01-02T15:04:05Z07:00"

// FragmentKind distinguishes the four fragment variants.
type FragmentKind int

const (
	// Literal text, copied verbatim into the output stream.
	Literal FragmentKind = iota
	// Date substitutes the current timestamp.
	Date
	// Column substitutes row[N-1], XML-escaped.
	Column
	// ColumnXML substitutes row[N-1] verbatim (caller guarantees it is
	// already XML-safe).
	ColumnXML
)

// Fragment is one piece of a parsed template: either literal text or a
// substitution referencing a 1-based column index.
type Fragment struct {
	Kind        FragmentKind
	Text        string // only set when Kind == Literal
	ColumnIndex int    // 1-based; only set when Kind == Column or ColumnXML
}

// Template is an ordered fragment list plus the schema/syntax URI pair
// declared on the template file's first line.
type Template struct {
	SchemaURI string
	SyntaxURI string
	Fragments []Fragment
}

// Parse parses template file content. Unknown substitution tokens are
// logged via diag and produce no fragment (parsing continues); a
// malformed column index is a hard parse error.
func Parse(content string, diag *slog.Logger) (*Template, error) {
	if diag == nil {
		diag = slog.Default()
	}
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return nil, errcode.New(errcode.CodeTemplateMissingHeaderLine, errcode.Recoverable,
			moduleName, "Parse", "empty template")
	}
	header := strings.TrimRight(lines[0], "\r")
	parts := strings.SplitN(header, "\t", 2)
	if len(parts) != 2 {
		return nil, errcode.Newf(errcode.CodeTemplateMissingHeaderLine, errcode.Recoverable,
			moduleName, "Parse", "first line must be schema<TAB>syntax, got %q", header)
	}
	body := ""
	if len(lines) == 2 {
		body = lines[1]
	}

	fragments, err := parseBody(body, diag)
	if err != nil {
		return nil, err
	}

	return &Template{
		SchemaURI: parts[0],
		SyntaxURI: parts[1],
		Fragments: fragments,
	}, nil
}

// parseBody scans body as a two-character state machine over the "$$"
// marker: the first occurrence opens a substitution token, the second
// closes it. Everything outside a token is literal text.
func parseBody(body string, diag *slog.Logger) ([]Fragment, error) {
	var frags []Fragment
	var lit strings.Builder

	flushLiteral := func() {
		if lit.Len() > 0 {
			frags = append(frags, Fragment{Kind: Literal, Text: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(body) {
		if strings.HasPrefix(body[i:], "$$") {
			flushLiteral()
			end := strings.Index(body[i+2:], "$$")
			if end < 0 {
				// Unterminated token: treat the rest as literal, matching
				// "everything outside the delimiters is literal".
				lit.WriteString(body[i:])
				i = len(body)
				break
			}
			token := body[i+2 : i+2+end]
			frag, ok, err := parseToken(token)
			if err != nil {
				return nil, err
			}
			if ok {
				frags = append(frags, frag)
			} else {
				diag.Warn("unknown template substitution token", "token", token)
			}
			i = i + 2 + end + 2
			continue
		}
		lit.WriteByte(body[i])
		i++
	}
	flushLiteral()
	return frags, nil
}

// parseToken interprets the text between a pair of $$ markers. Returns
// ok=false for an unrecognized token (caller logs and skips it).
func parseToken(token string) (Fragment, bool, error) {
	fields := strings.Fields(token)
	if len(fields) == 0 {
		return Fragment{}, false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "date":
		return Fragment{Kind: Date}, true, nil
	case "column":
		if len(fields) < 2 {
			return Fragment{}, false, nil
		}
		idx, err := parseColumnIndex(fields[1])
		if err != nil {
			return Fragment{}, false, err
		}
		return Fragment{Kind: Column, ColumnIndex: idx}, true, nil
	case "column-xml":
		if len(fields) < 2 {
			return Fragment{}, false, nil
		}
		idx, err := parseColumnIndex(fields[1])
		if err != nil {
			return Fragment{}, false, err
		}
		return Fragment{Kind: ColumnXML, ColumnIndex: idx}, true, nil
	default:
		// Bare "N" is shorthand for "column N".
		if idx, err := strconv.Atoi(fields[0]); err == nil {
			if idx < 1 {
				return Fragment{}, false, errcode.Newf(errcode.CodeTemplateBadColumnIndex, errcode.Recoverable,
					moduleName, "parseToken", "column index must be >= 1, got %d", idx)
			}
			return Fragment{Kind: Column, ColumnIndex: idx}, true, nil
		}
		return Fragment{}, false, nil
	}
}

func parseColumnIndex(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, errcode.Wrapf(errcode.CodeTemplateBadColumnIndex, errcode.Recoverable,
			moduleName, "parseColumnIndex", err, "non-integer column index %q", s)
	}
	if idx < 1 {
		return 0, errcode.Newf(errcode.CodeTemplateBadColumnIndex, errcode.Recoverable,
			moduleName, "parseColumnIndex", "column index must be >= 1, got %d", idx)
	}
	return idx, nil
}

// Render folds the fragment list over row, producing the rendered XML
// text. now is the captured timestamp used for the "date" substitution,
// so rendering is otherwise a pure function of (template, row).
func Render(t *Template, row []string, now time.Time) (string, error) {
	if t == nil {
		return "", errcode.New(errcode.CodeTemplateNilTemplate, errcode.Recoverable,
			moduleName, "Render", "nil template")
	}
	if row == nil {
		return "", errcode.New(errcode.CodeTemplateNilRow, errcode.Recoverable,
			moduleName, "Render", "nil row")
	}

	var out strings.Builder
	for _, f := range t.Fragments {
		switch f.Kind {
		case Literal:
			out.WriteString(f.Text)
		case Date:
			out.WriteString(now.Format(dateLayout))
		case Column, ColumnXML:
			if f.ColumnIndex-1 >= len(row) {
				return "", errcode.Newf(errcode.CodeTemplateColumnOutOfRange, errcode.Recoverable,
					moduleName, "Render", "column %d out of range (row has %d columns)", f.ColumnIndex, len(row))
			}
			val := row[f.ColumnIndex-1]
			if f.Kind == ColumnXML {
				out.WriteString(val)
			} else {
				out.WriteString(xmlwriter.EscapeText(val))
			}
		default:
			return "", errcode.Newf(errcode.CodeTemplateUnknownToken, errcode.Recoverable,
				moduleName, "Render", "unknown fragment kind %v", f.Kind)
		}
	}
	return out.String(), nil
}

// String renders a human-readable summary, mostly useful for diagnostics.
func (t *Template) String() string {
	return fmt.Sprintf("template(schema=%s syntax=%s fragments=%d)", t.SchemaURI, t.SyntaxURI, len(t.Fragments))
}
