// Append, read and rotation for .diffmage/history.jsonl.

package history

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"diffmage/cli/internal/erruser"
)

const (
	historyFilename = "history.jsonl"
	archivePrefix   = "history.jsonl."
	archiveSuffix   = ".gz"
	// DefaultMaxRecords is the number of lines kept in the active file.
	DefaultMaxRecords = 1000
	maxArchives       = 5
)

// maxLineSize bounds a single history line; bufio.Scanner defaults to 64KB.
const maxLineSize = 1024 * 1024

type archive struct {
	n    int
	path string
}

// archives lists history.jsonl.N.gz in dir, ascending by N.
func archives(dir string) ([]archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []archive
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		n, err := strconv.Atoi(name[len(archivePrefix) : len(name)-len(archiveSuffix)])
		if err != nil || n < 1 {
			continue
		}
		out = append(out, archive{n: n, path: filepath.Join(dir, name)})
	}
	slices.SortFunc(out, func(a, b archive) int { return a.n - b.n })
	return out, nil
}

// ReadRecords returns every record in stateDir, oldest first: archives by
// ascending N, then the active file. A missing state directory yields no
// records.
func ReadRecords(stateDir string) ([]Record, error) {
	arch, err := archives(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, erruser.New("Could not read history directory.", err)
	}
	var out []Record
	for _, a := range arch {
		recs, err := readGzipRecords(a.path)
		if err != nil {
			return nil, erruser.New("Could not read history archive "+filepath.Base(a.path)+".", err)
		}
		out = append(out, recs...)
	}
	lines, err := readLines(filepath.Join(stateDir, historyFilename))
	if err != nil && !os.IsNotExist(err) {
		return nil, erruser.New("Could not read history file.", err)
	}
	recs, err := parseRecords(lines)
	if err != nil {
		return nil, erruser.New("Could not read history file.", err)
	}
	return append(out, recs...), nil
}

func readGzipRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer func() { _ = gr.Close() }()
	lines, err := scanLines(gr)
	if err != nil {
		return nil, err
	}
	return parseRecords(lines)
}

func parseRecords(lines []string) ([]Record, error) {
	var out []Record
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("history line %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Append writes record as one JSON line to stateDir/history.jsonl, creating
// both if needed. When maxRecords > 0 and the file then holds more lines,
// the oldest lines move to a new gzip archive.
func Append(stateDir string, record Record, maxRecords int) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return erruser.New("Could not create state directory for history.", err)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return erruser.New("Could not record history.", err)
	}
	path := filepath.Join(stateDir, historyFilename)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return erruser.New("Could not record history.", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return erruser.New("Could not record history.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not record history.", err)
	}
	if maxRecords > 0 {
		return rotate(path, maxRecords)
	}
	return nil
}

// rotate archives all but the last maxRecords lines of path, prunes old
// archives, then replaces path atomically.
func rotate(path string, maxRecords int) error {
	lines, err := readLines(path)
	if err != nil {
		return erruser.New("Could not read history for rotation.", err)
	}
	if len(lines) <= maxRecords {
		return nil
	}
	cut := len(lines) - maxRecords
	dir := filepath.Dir(path)

	arch, err := archives(dir)
	if err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	next := 1
	if len(arch) > 0 {
		next = arch[len(arch)-1].n + 1
	}
	archivePath := filepath.Join(dir, archivePrefix+strconv.Itoa(next)+archiveSuffix)
	if err := writeGzip(archivePath, lines[:cut]); err != nil {
		return erruser.New("Could not write rotated history archive.", err)
	}
	arch = append(arch, archive{n: next, path: archivePath})
	for len(arch) > maxArchives {
		if err := os.Remove(arch[0].path); err != nil {
			return erruser.New("Could not prune history archives.", err)
		}
		arch = arch[1:]
	}

	tmp, err := os.CreateTemp(dir, "history.*.tmp")
	if err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	w := bufio.NewWriter(tmp)
	for _, l := range lines[cut:] {
		_, _ = w.WriteString(l)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return erruser.New("Could not rotate history file.", err)
	}
	if err := tmp.Close(); err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return erruser.New("Could not rotate history file.", err)
	}
	return nil
}

func writeGzip(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	gw := gzip.NewWriter(f)
	for _, l := range lines {
		if _, err := io.WriteString(gw, l+"\n"); err != nil {
			_ = gw.Close()
			return err
		}
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanLines(f)
}

// scanLines returns the non-empty lines of r without their newlines.
func scanLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			lines = append(lines, sc.Text())
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
