package features

import (
	"encoding/csv"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMalformed marks a feature file that could not be parsed.
var ErrMalformed = errors.New("malformed feature file")

// File holds every row of one feature file.
type File struct {
	Path   string
	Header []string
	rows   []Row
}

// Open reads the whole file at path. An empty file, or one holding only a
// header, yields zero rows without error. Any structural problem is reported
// as ErrMalformed.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open feature file %s", path)
	}
	defer f.Close()

	parsed, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "feature file %s", path)
	}
	parsed.Path = path
	return parsed, nil
}

// Parse reads a feature table from r.
func Parse(r io.Reader) (*File, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &File{}, nil
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read header"), ErrMalformed)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	if len(header) == 0 || (len(header) == 1 && header[0] == "") {
		return nil, errors.Mark(errors.New("empty header"), ErrMalformed)
	}

	file := &File{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "failed to read row %d", len(file.rows)+1), ErrMalformed)
		}
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = record[i]
		}
		file.rows = append(file.rows, row)
	}
	return file, nil
}

// Len returns the number of rows.
func (f *File) Len() int { return len(f.rows) }

// Rows returns a sequence over the file's rows. The sequence can be ranged
// over any number of times.
func (f *File) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, row := range f.rows {
			if !yield(row) {
				return
			}
		}
	}
}
