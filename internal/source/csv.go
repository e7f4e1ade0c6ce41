// Package source reads registry exports into raw records.
package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"

	"libsync/internal/library/models"
	"libsync/internal/library/normalize"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrEmpty is returned for input without a header row.
var ErrEmpty = errors.New("csv has no header")

// ReadFile reads a CSV export from path.
func ReadFile(path string) ([]models.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV decodes a header-driven CSV export. A leading UTF-8 BOM is dropped and
// the delimiter is ';' or ',', whichever the header line uses more.
func ReadCSV(r io.Reader) ([]models.RawRecord, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	firstLine, err := br.Peek(br.Size())
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(bytes.TrimSpace(firstLine)) == 0 {
		return nil, ErrEmpty
	}
	if i := bytes.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}

	cr := csv.NewReader(br)
	cr.Comma = detectDelimiter(firstLine)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	names := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
		present[names[i]] = true
	}

	dec, err := csvutil.NewDecoder(cr, names...)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	register := normalize.DefaultMapping()
	var out []models.RawRecord
	for {
		var row registerRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode row %d: %w", len(out)+2, err)
		}

		// Columns outside the register layout are kept so a custom mapping can name them.
		values := dec.Record()
		rec := make(models.RawRecord, len(names))
		for _, i := range dec.Unused() {
			if names[i] != "" {
				rec[names[i]] = values[i]
			}
		}
		for name, v := range row.columns(register) {
			if present[name] {
				rec[name] = v
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func detectDelimiter(line []byte) rune {
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}
