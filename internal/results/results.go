// Package results writes scored stimuli as tab-separated output files.
package results

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/score"
)

// Row is one scored stimulus.
type Row struct {
	FullSentence string
	Sentence     string
	Target       string
	Value        float64
	NumTokens    int
}

var escaper = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	`"`, `\"`,
	"'", `\'`,
)

// Escape backslash-escapes newlines, tabs and quotes so a field stays on one
// TSV line.
func Escape(s string) string { return escaper.Replace(s) }

// FileName is <outDir>/<stimBase>.<metric>.<model>.<family>.output where
// model is the cleaned model name.
func FileName(outDir, stimBase string, metric score.Metric, ref model.Ref, family model.Family) string {
	name := strings.Join([]string{stimBase, metric.String(), ref.CleanName(), family.String(), "output"}, ".")
	return filepath.Join(outDir, name)
}

// Header returns the header line (without newline) for metric.
func Header(metric score.Metric) string {
	return strings.Join([]string{"FullSentence", "Sentence", "TargetWords", metric.DisplayName(), "NumTokens"}, "\t")
}

// Writer appends rows to one output file. Each row is flushed as it is
// written so a crash loses at most the line being scored.
type Writer struct {
	mu     sync.Mutex
	path   string
	closer io.Closer
	bw     *bufio.Writer
	rows   int
}

// Create truncates path and writes the header.
func Create(path string, metric score.Metric) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	w, err := NewWriter(f, metric)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("write header to %s: %w", path, err)
	}
	w.path = path
	w.closer = f
	return w, nil
}

// NewWriter writes the header to out and returns a Writer over it.
func NewWriter(out io.Writer, metric score.Metric) (*Writer, error) {
	w := &Writer{bw: bufio.NewWriter(out)}
	if _, err := w.bw.WriteString(Header(metric) + "\n"); err != nil {
		return nil, err
	}
	if err := w.bw.Flush(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) Path() string { return w.path }

// Rows is the number of rows appended so far.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Append writes r and flushes.
func (w *Writer) Append(r Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bw == nil {
		return fmt.Errorf("writer is closed")
	}
	line := strings.Join([]string{
		Escape(r.FullSentence),
		Escape(r.Sentence),
		Escape(r.Target),
		strconv.FormatFloat(r.Value, 'g', -1, 64),
		strconv.Itoa(r.NumTokens),
	}, "\t")
	if _, err := w.bw.WriteString(line + "\n"); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bw == nil {
		return nil
	}
	err := w.bw.Flush()
	w.bw = nil
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
