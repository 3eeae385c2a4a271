package build

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one compiler message tied to a source position.
type Diagnostic struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// String formats the diagnostic the way compilers print it.
func (d Diagnostic) String() string {
	if d.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
	}
	return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
}

// file:line[:col]: message
var diagnosticPattern = regexp.MustCompile(`^\s*([^\s:][^:]*):(\d+):(?:(\d+):)?\s*(.+)$`)

// ParseDiagnostics extracts file:line:col: message lines from compiler
// output. Other lines are skipped.
func ParseDiagnostics(output []byte) []Diagnostic {
	var diagnostics []Diagnostic

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		match := diagnosticPattern.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}

		line, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		column := 0
		if match[3] != "" {
			column, _ = strconv.Atoi(match[3])
		}

		diagnostics = append(diagnostics, Diagnostic{
			File:    match[1],
			Line:    line,
			Column:  column,
			Message: strings.TrimSpace(match[4]),
		})
	}

	return diagnostics
}
