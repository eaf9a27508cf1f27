package janitor

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Severity of a compiler diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Diagnostic is one message emitted by the host toolchain.
type Diagnostic struct {
	Severity Severity
	Message  string
}

// Failure is a diagnostic recognised as a reference to a missing or changed
// generic type.
type Failure struct {
	Path    string // file the diagnostic points at, as printed
	Line    int
	Package string // package qualifier of the parent type, may be empty
	Type    string
	Arity   int // type argument count used at the failing site, -1 if unknown
}

// Parser recognises missing-type diagnostics.
type Parser interface {
	Parse(d Diagnostic) (Failure, bool)
}

var (
	locationRe     = regexp.MustCompile(`^(\S+?\.go):(\d+):(?:\d+:)?\s*(.*)$`)
	undefinedRe    = regexp.MustCompile(`^undefined: (?:(\w+)\.)?(\w+)`)
	typeArgCountRe = regexp.MustCompile(`^(?:not enough|too many) type arguments for type (\w+): have (\d+), want \d+`)
	notGenericRe   = regexp.MustCompile(`^(?:(\w+)\.)?(\w+) is not a generic type`)
)

// GoParser understands the messages of the gc toolchain. Package and arity
// missing from the message are recovered from the offending source line.
type GoParser struct {
	// Root resolves relative paths when reading source lines.
	Root string
}

func (p GoParser) Parse(d Diagnostic) (Failure, bool) {
	if d.Severity != SeverityError {
		return Failure{}, false
	}
	loc := locationRe.FindStringSubmatch(strings.TrimSpace(d.Message))
	if loc == nil {
		return Failure{}, false
	}
	line, _ := strconv.Atoi(loc[2])
	f := Failure{Path: loc[1], Line: line, Arity: -1}
	msg := loc[3]

	switch {
	case typeArgCountRe.MatchString(msg):
		m := typeArgCountRe.FindStringSubmatch(msg)
		f.Type = m[1]
		f.Arity, _ = strconv.Atoi(m[2])
	case undefinedRe.MatchString(msg):
		m := undefinedRe.FindStringSubmatch(msg)
		f.Package, f.Type = m[1], m[2]
	case notGenericRe.MatchString(msg):
		m := notGenericRe.FindStringSubmatch(msg)
		f.Package, f.Type = m[1], m[2]
	default:
		return Failure{}, false
	}

	if f.Package == "" || f.Arity < 0 {
		if src, ok := p.sourceLine(f.Path, f.Line); ok {
			pkg, arity := usageIn(src, f.Type)
			if f.Package == "" {
				f.Package = pkg
			}
			if f.Arity < 0 {
				f.Arity = arity
			}
		}
	}
	return f, true
}

func (p GoParser) sourceLine(path string, line int) (string, bool) {
	lines, err := readLines(resolve(p.Root, path))
	if err != nil || line < 1 || line > len(lines) {
		return "", false
	}
	return lines[line-1], true
}

// usageIn finds `pkg.Type[...]` in src and returns the qualifier and the
// number of type arguments, or -1 when src does not instantiate Type.
func usageIn(src, typ string) (string, int) {
	re := regexp.MustCompile(`(?:(\w+)\.)?\b` + regexp.QuoteMeta(typ) + `\b(\[)?`)
	m := re.FindStringSubmatchIndex(src)
	if m == nil {
		return "", -1
	}
	pkg := ""
	if m[2] >= 0 {
		pkg = src[m[2]:m[3]]
	}
	if m[4] < 0 {
		return pkg, -1
	}
	return pkg, countTypeArgs(src[m[5]:])
}

// countTypeArgs counts the top-level comma separated items up to the
// bracket closing the list that starts just before s.
func countTypeArgs(s string) int {
	depth, n, empty := 0, 1, true
	for _, r := range s {
		switch r {
		case '[', '(', '{':
			depth++
		case ')', '}':
			depth--
		case ']':
			if depth == 0 {
				if empty {
					return 0
				}
				return n
			}
			depth--
		case ',':
			if depth == 0 {
				n++
			}
		case ' ', '\t':
			continue
		}
		empty = false
	}
	return -1
}

// ReadDiagnostics splits toolchain output into error diagnostics, one per
// line. Package headers ("# example.com/app") are skipped.
func ReadDiagnostics(r io.Reader) ([]Diagnostic, error) {
	var out []Diagnostic
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, Diagnostic{Severity: SeverityError, Message: line})
	}
	return out, sc.Err()
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}
