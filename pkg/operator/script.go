package operator

import (
	"fmt"
	"strconv"
	"strings"
)

// Script replays canned answers, one per question, in order.
// It records every notification and every prompt it was shown.
type Script struct {
	answers []string
	Prompts []string
	Notices []string
	Choices [][][]string // rows offered by each ChooseIndex
}

func NewScript(answers ...string) *Script {
	return &Script{answers: answers}
}

// Remaining reports how many answers were not consumed.
func (s *Script) Remaining() int { return len(s.answers) }

func (s *Script) next(prompt string) (string, error) {
	s.Prompts = append(s.Prompts, prompt)
	if len(s.answers) == 0 {
		return "", fmt.Errorf("%w at %q", ErrNoMoreInput, prompt)
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *Script) ReadLine(prompt string) (string, error) {
	return s.next(prompt)
}

func (s *Script) ChooseIndex(title string, headers []string, rows [][]string) (int, error) {
	s.Choices = append(s.Choices, rows)
	a, err := s.next(title)
	if err != nil {
		return -1, err
	}
	n, err := strconv.Atoi(a)
	if err != nil {
		return -1, fmt.Errorf("%w: %q", ErrNotIndex, a)
	}
	return n, nil
}

func (s *Script) Confirm(prompt string) (bool, error) {
	a, err := s.next(prompt)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(a, "y") || strings.EqualFold(a, "yes"), nil
}

func (s *Script) Notify(format string, args ...any) {
	s.Notices = append(s.Notices, fmt.Sprintf(format, args...))
}
