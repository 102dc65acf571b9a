// Package stimuli reads stimulus files and list files.
package stimuli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Line is one stimulus with its 1-based line number.
type Line struct {
	Number int
	Text   string
}

// BaseName returns the last path element of path up to its first ".".
func BaseName(path string) string {
	name, _, _ := strings.Cut(filepath.Base(path), ".")
	return name
}

// ReadLines reads every line of r. Line endings ("\n" or "\r\n") are
// stripped; empty lines are kept so numbering matches the file.
func ReadLines(ctx context.Context, r io.Reader) ([]Line, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines []Line
	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n++
		lines = append(lines, Line{Number: n, Text: strings.TrimSuffix(sc.Text(), "\r")})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadFile reads the stimuli of path.
func ReadFile(ctx context.Context, path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines, err := ReadLines(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// ReadList reads a list file: one entry per line, blank lines skipped.
func ReadList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
