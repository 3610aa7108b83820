// Package operator is the interactive side of wallet commands: free-text
// prompts, index selection from a table, and yes/no confirmation.
package operator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

var (
	ErrNotIndex    = errors.New("input is not an index")
	ErrNoMoreInput = errors.New("no more operator input")
)

// Operator answers the questions a command needs a human for.
// ChooseIndex returns whatever index was entered; range checks belong to the caller.
type Operator interface {
	ReadLine(prompt string) (string, error)
	ChooseIndex(title string, headers []string, rows [][]string) (int, error)
	Confirm(prompt string) (bool, error)
	Notify(format string, args ...any)
}

// Terminal talks to a human over a reader/writer pair, usually stdin/stderr.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) ReadLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(t.out, prompt)
	}
	line, err := t.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNoMoreInput
		}
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (t *Terminal) ChooseIndex(title string, headers []string, rows [][]string) (int, error) {
	RenderTable(t.out, title, append([]string{"#"}, headers...), numbered(rows))
	line, err := t.ReadLine("Enter index: ")
	if err != nil {
		return -1, err
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return -1, fmt.Errorf("%w: %q", ErrNotIndex, line)
	}
	return n, nil
}

func (t *Terminal) Confirm(prompt string) (bool, error) {
	line, err := t.ReadLine(prompt + " [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *Terminal) Notify(format string, args ...any) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

// RenderTable writes rows as an ASCII table with an optional caption.
func RenderTable(w io.Writer, caption string, headers []string, rows [][]string) {
	writer := tablewriter.NewWriter(w)
	writer.SetHeader(headers)
	writer.SetAutoWrapText(false)
	for _, r := range rows {
		writer.Append(r)
	}
	if caption != "" {
		writer.SetCaption(true, caption)
	}
	writer.Render()
}

func numbered(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string{strconv.Itoa(i)}, r...)
	}
	return out
}
