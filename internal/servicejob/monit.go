package servicejob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/iaas-backup-restore/internal/retry"
	"github.com/Chapsvision-dev/iaas-backup-restore/internal/sysexec"
)

// Controller stops, starts and observes the service job of an instance.
type Controller interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	Status(ctx context.Context) (string, error)
	// WaitFor blocks until the job reports status. It returns false when the
	// status was not reached in time.
	WaitFor(ctx context.Context, status string) (bool, error)
}

// Default polling settings.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultTimeout      = 18000 * time.Second
)

// Monit drives a job through the monit CLI.
type Monit struct {
	Job          string
	Binary       string
	PollInterval time.Duration
	Timeout      time.Duration
	cmd          sysexec.Command
}

// NewMonit returns a controller for job. Zero durations take the defaults.
func NewMonit(cmd sysexec.Command, job string, interval, timeout time.Duration) *Monit {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monit{Job: job, Binary: "monit", PollInterval: interval, Timeout: timeout, cmd: cmd}
}

// Stop asks monit to stop the job. It does not wait for the job to stop.
func (m *Monit) Stop(ctx context.Context) error {
	return m.run(ctx, "stop")
}

// Start asks monit to start the job. It does not wait for the job to start.
func (m *Monit) Start(ctx context.Context) error {
	return m.run(ctx, "start")
}

func (m *Monit) run(ctx context.Context, verb string) error {
	if strings.TrimSpace(m.Job) == "" {
		return errors.New("monit: no job configured")
	}
	_, stderr, err := m.cmd.Run(ctx, m.Binary, verb, m.Job)
	if err != nil {
		return fmt.Errorf("monit %s %s: %w: %s", verb, m.Job, err, strings.TrimSpace(string(stderr)))
	}
	log.Info().Str("action", "service_job").Str("job", m.Job).Msg("monit " + verb + " requested")
	return nil
}

// Status returns the monit status of the job, e.g. "running" or "not monitored".
func (m *Monit) Status(ctx context.Context) (string, error) {
	stdout, stderr, err := m.cmd.Run(ctx, m.Binary, "status", m.Job)
	if err != nil {
		return "", fmt.Errorf("monit status %s: %w: %s", m.Job, err, strings.TrimSpace(string(stderr)))
	}
	return parseStatus(stdout)
}

// parseStatus reads the first "status" field of a monit status report.
func parseStatus(out []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "status" {
			continue
		}
		return strings.ToLower(strings.Join(fields[1:], " ")), nil
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errors.New("monit: no status line in output")
}

// WaitFor polls Status until it equals status or the timeout elapses.
// Transient status errors are logged and polled again.
func (m *Monit) WaitFor(ctx context.Context, status string) (bool, error) {
	start := time.Now()
	want := strings.ToLower(status)
	err := retry.Poll(ctx, m.PollInterval, m.Timeout, func(ctx context.Context) (bool, error) {
		got, err := m.Status(ctx)
		if err != nil {
			log.Debug().Err(err).Str("action", "service_job").Str("job", m.Job).Msg("status check failed")
			return false, nil
		}
		log.Debug().Str("action", "service_job").Str("job", m.Job).Str("status", got).Str("want", want).Msg("polled")
		return got == want, nil
	})
	if errors.Is(err, retry.ErrTimeout) {
		log.Warn().Str("action", "service_job").Str("job", m.Job).Str("want", want).
			Dur("elapsed_ms", time.Since(start)).Msg("status not reached")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log.Info().Str("action", "service_job").Str("job", m.Job).Str("status", want).
		Dur("elapsed_ms", time.Since(start)).Msg("status reached")
	return true, nil
}
