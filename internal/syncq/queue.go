// Package syncq keeps writes made while the API was unreachable so they can be
// replayed later.
package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func queuePath() (string, error) {
	dir := strings.TrimSpace(os.Getenv("TAP_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".tap")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmds ...Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	commands = append(commands, cmds...)
	return Save(commands)
}

// Replay sends queued commands in order through send. Commands that fail with
// a retryable error stay queued, the rest are dropped. It reports how many
// were sent and how many remain.
func Replay(send func(Command) error, retryable func(error) bool) (sent int, remaining []Command, err error) {
	queue, err := Load()
	if err != nil {
		return 0, nil, err
	}
	remaining = make([]Command, 0, len(queue))
	var firstErr error
	for i, c := range queue {
		if err := send(c); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if retryable(err) {
				// Keep order: everything after a retryable failure waits too.
				remaining = append(remaining, queue[i:]...)
				break
			}
			continue
		}
		sent++
	}
	if err := Save(remaining); err != nil {
		return sent, remaining, err
	}
	return sent, remaining, firstErr
}
