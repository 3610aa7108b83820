package operator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminal_ChooseIndex(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("1\nabc\n"), &out)

	n, err := term.ChooseIndex("accounts", []string{"id", "name"}, [][]string{{"a1", "cash"}, {"a2", "gold"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), "gold")
	assert.Contains(t, out.String(), "accounts")

	_, err = term.ChooseIndex("again", []string{"id"}, [][]string{{"a1"}})
	assert.ErrorIs(t, err, ErrNotIndex)

	_, err = term.ReadLine("> ")
	assert.ErrorIs(t, err, ErrNoMoreInput)
}

func TestTerminal_ConfirmAndLastLine(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("yes\nno\nnick"), &out)

	ok, err := term.Confirm("proceed?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = term.Confirm("really?")
	require.NoError(t, err)
	assert.False(t, ok)

	line, err := term.ReadLine("name: ")
	require.NoError(t, err)
	assert.Equal(t, "nick", line)
}

func TestScript(t *testing.T) {
	s := NewScript("2", "bob", "y")

	n, err := s.ChooseIndex("parties", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	line, err := s.ReadLine("recipient")
	require.NoError(t, err)
	assert.Equal(t, "bob", line)

	ok, err := s.Confirm("sure")
	require.NoError(t, err)
	assert.True(t, ok)

	s.Notify("done %d", 1)
	assert.Equal(t, []string{"done 1"}, s.Notices)
	assert.Equal(t, []string{"parties", "recipient", "sure"}, s.Prompts)

	_, err = s.ReadLine("extra")
	assert.ErrorIs(t, err, ErrNoMoreInput)
	assert.Zero(t, s.Remaining())
}
