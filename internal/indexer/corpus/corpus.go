// Package corpus reads raw documents for an index build, either from a
// tab-separated file (one `doc_id\ttitle\ttext` record per line) or from a
// directory of `<doc_id>_<title>.txt` files.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-index/internal/indexer/emitter"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

const maxLineBytes = 16 * 1024 * 1024

// Source yields documents one at a time. Next returns io.EOF when the
// source is exhausted. An error matching apperrors.ErrParse affects only
// the current record; callers skip it and keep reading.
type Source interface {
	Next() (emitter.Document, error)
	Close() error
}

type tsvSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// OpenTSV opens path for reading, or standard input when path is "-".
func OpenTSV(path string) (Source, error) {
	if path == "-" {
		return NewTSV(os.Stdin, nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	return NewTSV(f, f), nil
}

// NewTSV reads records from r. closer is closed by Close and may be nil.
func NewTSV(r io.Reader, closer io.Closer) Source {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &tsvSource{scanner: sc, closer: closer}
}

func (s *tsvSource) Next() (emitter.Document, error) {
	for s.scanner.Scan() {
		s.line++
		line := s.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		doc, err := emitter.ParseDocument(line)
		if err != nil {
			if pe, ok := err.(*apperrors.ParseError); ok {
				pe.Line = s.line
			}
			return emitter.Document{}, err
		}
		return doc, nil
	}
	if err := s.scanner.Err(); err != nil {
		return emitter.Document{}, fmt.Errorf("reading corpus line %d: %w", s.line+1, err)
	}
	return emitter.Document{}, io.EOF
}

func (s *tsvSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type dirSource struct {
	dir    string
	files  []string
	pos    int
	logger *slog.Logger
}

// OpenDir lists every *.txt file in dir, sorted by name. The file name
// supplies doc_id and title; the body is the document text.
func OpenDir(dir string) (Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return &dirSource{
		dir:    dir,
		files:  files,
		logger: slog.Default().With("component", "corpus-dir"),
	}, nil
}

func (s *dirSource) Next() (emitter.Document, error) {
	if s.pos >= len(s.files) {
		return emitter.Document{}, io.EOF
	}
	name := s.files[s.pos]
	s.pos++

	docID, title, err := ParseFileName(name)
	if err != nil {
		return emitter.Document{}, err
	}
	body, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return emitter.Document{}, fmt.Errorf("reading %s: %w", name, err)
	}
	return emitter.Document{DocID: docID, Title: title, Text: string(body)}, nil
}

func (s *dirSource) Close() error {
	return nil
}

// ParseFileName splits `<doc_id>_<title>.txt`. Underscores in the title
// part become spaces.
func ParseFileName(name string) (docID, title string, err error) {
	base := strings.TrimSuffix(filepath.Base(name), ".txt")
	id, rest, ok := strings.Cut(base, "_")
	if !ok || id == "" {
		return "", "", &apperrors.ParseError{Input: name, Reason: "file name must be <doc_id>_<title>.txt"}
	}
	return id, strings.ReplaceAll(rest, "_", " "), nil
}
