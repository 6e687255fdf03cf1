package servicejob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	calls   [][]string
	outputs []string
	err     error
}

func (s *scripted) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if s.err != nil {
		return nil, []byte("monit: no such service"), s.err
	}
	if len(s.outputs) == 0 {
		return nil, nil, nil
	}
	out := s.outputs[0]
	if len(s.outputs) > 1 {
		s.outputs = s.outputs[1:]
	}
	return []byte(out), nil, nil
}

func statusOut(s string) string {
	return "Process 'blueprint'\n  status                       " + s + "\n  monitoring status            Monitored\n"
}

func TestStopStart(t *testing.T) {
	cmd := &scripted{}
	m := NewMonit(cmd, "blueprint", 0, 0)
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, [][]string{{"monit", "stop", "blueprint"}, {"monit", "start", "blueprint"}}, cmd.calls)
	assert.Equal(t, DefaultPollInterval, m.PollInterval)
	assert.Equal(t, DefaultTimeout, m.Timeout)
}

func TestStopError(t *testing.T) {
	m := NewMonit(&scripted{err: errors.New("exit status 1")}, "blueprint", 0, 0)
	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such service")
}

func TestParseStatus(t *testing.T) {
	got, err := parseStatus([]byte(statusOut("Not monitored")))
	require.NoError(t, err)
	assert.Equal(t, "not monitored", got)

	_, err = parseStatus([]byte("The Monit daemon is not running"))
	assert.Error(t, err)
}

func TestWaitFor(t *testing.T) {
	cmd := &scripted{outputs: []string{statusOut("Initializing"), statusOut("Running")}}
	m := NewMonit(cmd, "blueprint", time.Millisecond, time.Second)

	ok, err := m.WaitFor(context.Background(), "running")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, cmd.calls, 2)
}

func TestWaitForTimesOut(t *testing.T) {
	cmd := &scripted{outputs: []string{statusOut("Running")}}
	m := NewMonit(cmd, "blueprint", time.Millisecond, 10*time.Millisecond)

	ok, err := m.WaitFor(context.Background(), "not monitored")
	require.NoError(t, err)
	assert.False(t, ok)
}
