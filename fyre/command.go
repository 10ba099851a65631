package fyre

import (
	"bufio"
	"fmt"
	"strings"
)

const setParamCmd = "set_param"

// Command is one request line, without its terminating newline.
type Command string

// FormatCommand renders each token with fmt.Sprint and joins them with single
// spaces. The protocol has no escaping, so tokens carrying a line break are rejected.
func FormatCommand(tokens ...any) (Command, error) {
	if len(tokens) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	parts := make([]string, len(tokens))
	for i, token := range tokens {
		s := fmt.Sprint(token)
		if strings.ContainsAny(s, "\r\n") {
			return "", fmt.Errorf("%w: token %d contains a line break: %q", ErrInvalidCommand, i, s)
		}
		parts[i] = s
	}
	return Command(strings.Join(parts, space)), nil
}

func (c Command) WriteRequest(w *bufio.Writer) error {
	_, err := w.WriteString(string(c))
	if err != nil {
		return err
	}

	_, err = w.Write(newLine)
	return err
}

// Param is a single render parameter assignment.
type Param struct {
	Name  string
	Value any
}

// Tokens returns the set_param tokens for p.
func (p Param) Tokens() []any {
	return []any{setParamCmd, fmt.Sprintf("%s=%v", p.Name, p.Value)}
}

// Params is an ordered list of assignments. Slice order is send order.
type Params []Param

// Set appends an assignment and returns the extended list.
func (ps Params) Set(name string, value any) Params {
	return append(ps, Param{Name: name, Value: value})
}
