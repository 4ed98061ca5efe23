// Package hookio implements the bounded read/decode/write boundary
// between a MAOC process and the host: one JSON event in on standard
// input, one JSON decision out on standard output.
package hookio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Limits bounds a single Read call. Zero values are replaced by the
// package defaults.
type Limits struct {
	MaxBytes int
	MaxDepth int
	Timeout  time.Duration
}

const (
	DefaultMaxBytes = 1 << 20 // 1 MiB
	DefaultMaxDepth = 32
	DefaultTimeout  = 100 * time.Millisecond
)

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	return l
}

// Read consumes r until EOF or the aggregate timeout, enforcing the
// payload-size and JSON-nesting bounds, and returns the decoded Event.
// The timeout covers both reading and parsing. Bound, timeout, empty
// and malformed-payload failures return the sentinel errors in
// errors.go; an error from r itself is returned as is. Callers treat
// every error as fail-open (allow) per the InputError policy in the
// error taxonomy.
func Read(ctx context.Context, r io.Reader, limits Limits) (*Event, error) {
	limits = limits.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	data, err := readBounded(ctx, r, limits.MaxBytes)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyPayload
	}

	if err := checkDepth(data, limits.MaxDepth); err != nil {
		return nil, err
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if ctx.Err() != nil {
		return nil, ErrTimeout
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		ev.Raw = raw
	}

	return &ev, nil
}

// readBounded reads r in small chunks, rejecting as soon as the running
// total exceeds maxBytes instead of waiting for EOF — an oversized
// payload is rejected within one chunk of crossing max_bytes, without
// reading the rest of it.
func readBounded(ctx context.Context, r io.Reader, maxBytes int) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				if len(buf) > maxBytes {
					done <- result{nil, ErrPayloadTooLarge}
					return
				}
			}
			if err == io.EOF {
				done <- result{buf, nil}
				return
			}
			if err != nil {
				done <- result{nil, err}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrTimeout
	case res := <-done:
		return res.data, res.err
	}
}

// checkDepth walks the JSON token stream once, counting nesting depth,
// and fails before any value is built if the document would exceed
// maxDepth. This enforces the bound during parsing rather than after
// an already-built structure is inspected.
func checkDepth(data []byte, maxDepth int) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
				if depth > maxDepth {
					return ErrDepthExceeded
				}
			case '}', ']':
				depth--
			}
		}
	}
}

// WriteDecision writes the single-line JSON decision document to w.
func WriteDecision(w io.Writer, d Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("hookio: marshal decision: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
