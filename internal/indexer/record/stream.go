package record

import (
	"bufio"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-index/pkg/errors"
)

const maxLineSize = 16 * 1024 * 1024

// Writer buffers encoded records onto an io.Writer, one per line.
type Writer struct {
	w     *bufio.Writer
	count int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) Write(r Record) error {
	if _, err := w.w.WriteString(r.Encode()); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int {
	return w.count
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

// ParseFunc turns one line into a record.
type ParseFunc func(line string) (Record, error)

// Scanner reads pipe lines and parses them with a ParseFunc. Parse
// failures are returned per line as *errors.ParseError with the line number
// filled in; the scan itself continues.
type Scanner struct {
	sc    *bufio.Scanner
	parse ParseFunc
	line  int
	rec   Record
	err   error
}

func NewScanner(r io.Reader, parse ParseFunc) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Scanner{sc: sc, parse: parse}
}

// Next advances to the next non-empty line. It returns false at end of
// input or on a read error (see Err).
func (s *Scanner) Next() bool {
	for s.sc.Scan() {
		s.line++
		text := s.sc.Text()
		if text == "" {
			continue
		}
		s.rec, s.err = s.parse(text)
		if pe, ok := s.err.(*apperrors.ParseError); ok {
			pe.Line = s.line
		}
		return true
	}
	return false
}

// Record returns the current record and its parse error, if any.
func (s *Scanner) Record() (Record, error) {
	return s.rec, s.err
}

// Err returns the first read error, not parse errors.
func (s *Scanner) Err() error {
	return s.sc.Err()
}

// ParseReduceOutput parses one line of reducer output: a posting
// (`term\tdoc_id\ttf\tdoc_length`), a vocabulary record (`term\tdf`) or a
// passed-through document record.
func ParseReduceOutput(line string) (Record, error) {
	parts := split(line)
	switch {
	case len(parts) > 0 && parts[0] == MetaTag:
		return ParseMapOutput(line)
	case len(parts) == 2:
		df, err := ParseDocFreq(line)
		if err != nil {
			return nil, err
		}
		return df, nil
	default:
		tf, err := ParseTermFreq(line)
		if err != nil {
			return nil, err
		}
		return tf, nil
	}
}
