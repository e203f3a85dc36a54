package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"cfssim/internal/sched"
)

var csvHeader = []string{"tick", "event", "task_id", "duration_ms", "remaining_ms", "vruntime"}

// CSVWriter writes one row per event.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter writes the header to w and returns the writer.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if err := cw.w.Write(csvHeader); err != nil {
		return nil, err
	}
	return cw, nil
}

// CreateCSV opens the given file path for CSV logging of events.
func CreateCSV(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	cw, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw.closer = f
	return cw, nil
}

// HandleEvent implements sched.EventHandler.
func (cw *CSVWriter) HandleEvent(ev sched.Event) error {
	return cw.w.Write([]string{
		strconv.FormatInt(ev.Tick, 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		strconv.FormatInt(ev.Duration, 10),
		strconv.FormatInt(ev.Remaining, 10),
		fmt.Sprintf("%.4f", ev.Vruntime),
	})
}

// Close flushes buffered rows and closes the file, if any.
func (cw *CSVWriter) Close() error {
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		return err
	}
	if cw.closer != nil {
		return cw.closer.Close()
	}
	return nil
}
