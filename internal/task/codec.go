package task

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformed indicates a document that cannot be parsed as a task.
// The orchestrator quarantines such documents instead of dropping them.
var ErrMalformed = errors.New("malformed task document")

const frontMatterDelim = "---"

// Encode renders a task as a document: YAML front matter between ---
// markers, followed by the free-form body.
func Encode(t *Task) ([]byte, error) {
	meta, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(meta)
	buf.WriteString(frontMatterDelim + "\n")
	if t.Body != "" {
		buf.WriteString("\n")
		buf.WriteString(t.Body)
		if !strings.HasSuffix(t.Body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a task document. Parse failures wrap ErrMalformed so
// callers can distinguish quarantine cases from I/O errors.
func Decode(data []byte) (*Task, error) {
	text := string(data)
	rest, ok := strings.CutPrefix(text, frontMatterDelim+"\n")
	if !ok {
		return nil, fmt.Errorf("%w: missing front matter open marker", ErrMalformed)
	}

	meta, body, ok := strings.Cut(rest, "\n"+frontMatterDelim)
	if !ok {
		// First line may itself be the close marker for empty metadata.
		if strings.HasPrefix(rest, frontMatterDelim) {
			meta, body = "", strings.TrimPrefix(rest, frontMatterDelim)
		} else {
			return nil, fmt.Errorf("%w: missing front matter close marker", ErrMalformed)
		}
	} else {
		meta += "\n"
	}

	var t Task
	if err := yaml.Unmarshal([]byte(meta), &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t.Body = strings.TrimPrefix(strings.TrimPrefix(body, "\n"), "\n")

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &t, nil
}
