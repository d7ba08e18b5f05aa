package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ScriptInvoker runs actions as executables from a directory. The
// payload goes to stdin, stdout becomes the response detail, and a
// non-zero exit is a failure. A missing script is a permanent error
// since retrying cannot make it appear.
type ScriptInvoker struct {
	// Dir holds one executable per action name.
	Dir string
}

// Invoke runs the named action script.
func (s ScriptInvoker) Invoke(ctx context.Context, action string, payload string) (Response, error) {
	if action == "" || strings.ContainsAny(action, "/\\") {
		return Response{}, Permanent(fmt.Errorf("invalid action name %q", action))
	}
	path := filepath.Join(s.Dir, action)
	if _, err := os.Stat(path); err != nil {
		return Response{}, Permanent(fmt.Errorf("action script %s: %w", action, err))
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = strings.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		// Script failures default to transient; scripts signal
		// permanent errors by exiting with code 2.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 2 {
			return Response{Detail: detail}, Permanent(fmt.Errorf("action %s: %s", action, detail))
		}
		return Response{Detail: detail}, Transient(fmt.Errorf("action %s: %s", action, detail))
	}

	return Response{Success: true, Detail: strings.TrimSpace(stdout.String())}, nil
}
