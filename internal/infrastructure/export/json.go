package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bytedance/sonic"
)

// JSONExporter writes one JSON object per span, newline delimited.
type JSONExporter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	api    sonic.API
}

// NewJSONExporter writes to w. If w is an io.Closer other than the standard
// streams it is closed on Shutdown.
func NewJSONExporter(w io.Writer) *JSONExporter {
	e := &JSONExporter{w: w, api: sonic.ConfigStd}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		e.closer = c
	}
	return e
}

// OpenJSONExporter writes to "stdout", "stderr" or appends to a file.
func OpenJSONExporter(output string) (*JSONExporter, error) {
	switch output {
	case "", "stdout":
		return NewJSONExporter(os.Stdout), nil
	case "stderr":
		return NewJSONExporter(os.Stderr), nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open span output: %w", err)
	}
	return NewJSONExporter(f), nil
}

func (e *JSONExporter) ExportSpans(ctx context.Context, spans []FinishedSpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := e.api.Marshal(&spans[i])
		if err != nil {
			return fmt.Errorf("marshal span %s: %w", spans[i].SpanID, err)
		}
		data = append(data, '\n')
		if _, err := e.w.Write(data); err != nil {
			return fmt.Errorf("write span: %w", err)
		}
	}
	return nil
}

// Shutdown closes the underlying file, if any.
func (e *JSONExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closer == nil {
		return nil
	}
	err := e.closer.Close()
	e.closer = nil
	return err
}
