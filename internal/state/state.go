package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Operation states.
const (
	Processing = "processing"
	Succeeded  = "succeeded"
	Failed     = "failed"
)

// RescueMessage is recorded when a run ended without reaching a final state.
const RescueMessage = "[CRITICAL] Process disappeared unexpectedly. You should check for orphaned volumes/snapshots/other resources."

// LastOperation is the body of a last-operation file.
type LastOperation struct {
	State     string `json:"state"`
	Stage     string `json:"stage"`
	UpdatedAt string `json:"updated_at"`
}

// Recorder persists the last-operation state of one operation kind.
type Recorder interface {
	Record(state, stage string) error
}

// Dir stores last-operation files below a directory.
type Dir struct {
	Path string
	now  func() time.Time
}

// NewDir returns a store rooted at path.
func NewDir(path string) *Dir {
	return &Dir{Path: path, now: time.Now}
}

// For binds the store to one operation name (backup, restore, blob).
func (d *Dir) For(op string) Recorder {
	return opRecorder{dir: d, op: op}
}

type opRecorder struct {
	dir *Dir
	op  string
}

func (r opRecorder) Record(state, stage string) error { return r.dir.Write(r.op, state, stage) }

func (d *Dir) link(op string) string {
	return filepath.Join(d.Path, op+".lastoperation.json")
}

func (d *Dir) target(op string) string {
	return filepath.Join(d.Path, op+".lastoperation.blue.json")
}

// Write replaces the last-operation file of op. The body is written to the
// blue file and the public name is re-pointed at it through a symlink swap.
func (d *Dir) Write(op, state, stage string) error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	body, err := json.Marshal(LastOperation{
		State:     state,
		Stage:     stage,
		UpdatedAt: d.now().UTC().Truncate(time.Second).Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	target := d.target(op)
	if err := os.WriteFile(target, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}

	tmp := d.link(op) + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("symlink %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, d.link(op)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap %s: %w", d.link(op), err)
	}

	log.Info().Str("action", "state").Str("operation", op).Str("state", state).Msg(stage)
	return nil
}

// Read returns the last operation of op. A missing or empty file yields a
// failed placeholder so callers never see an empty state.
func (d *Dir) Read(op string) (LastOperation, error) {
	data, err := os.ReadFile(d.link(op))
	if errors.Is(err, os.ErrNotExist) || (err == nil && strings.TrimSpace(string(data)) == "") {
		return LastOperation{State: Failed, Stage: "no last operation recorded for " + op}, nil
	}
	if err != nil {
		return LastOperation{}, fmt.Errorf("read %s: %w", d.link(op), err)
	}
	var lo LastOperation
	if err := json.Unmarshal(data, &lo); err != nil {
		return LastOperation{}, fmt.Errorf("decode %s: %w", d.link(op), err)
	}
	return lo, nil
}

// Rescue marks op failed when its last recorded state is not final.
// It reports whether the file was rewritten.
func (d *Dir) Rescue(op string) (bool, error) {
	data, err := os.ReadFile(d.link(op))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	var lo LastOperation
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &lo); err != nil {
			return false, fmt.Errorf("decode %s: %w", d.link(op), err)
		}
	}
	switch lo.State {
	case "", "new", Processing, "aborting":
	default:
		return false, nil
	}
	log.Error().Str("action", "state").Str("operation", op).Msg(RescueMessage)
	return true, d.Write(op, Failed, RescueMessage)
}

// Discard records nothing. It serves runs without a state directory.
type Discard struct{}

func (Discard) Record(string, string) error { return nil }
