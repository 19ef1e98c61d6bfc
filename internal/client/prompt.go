package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Prompter reads record fields interactively.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter returns a Prompter reading from in and writing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// Line prints label and returns the next input line. ok is false at EOF.
func (p *Prompter) Line(label string) (string, bool) {
	fmt.Fprint(p.out, label)
	if !p.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

// Record reads key=value lines until an empty line. Values that parse as
// JSON (numbers, booleans, null, arrays, objects, quoted strings) keep
// their type; anything else is a string.
func (p *Prompter) Record() (map[string]any, error) {
	fmt.Fprintln(p.out, "Enter fields as key=value, empty line to finish.")
	doc := map[string]any{}
	for {
		line, ok := p.Line("  field: ")
		if !ok || line == "" {
			return doc, nil
		}
		key, raw, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value", line)
		}
		doc[key] = ParseValue(strings.TrimSpace(raw))
	}
}

// ParseValue interprets raw as a JSON literal, falling back to the raw
// string.
func ParseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
