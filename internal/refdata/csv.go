package refdata

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures ReadCSV.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // comment character (0 = none)
}

// ReadCSV reads a headed CSV document. Fields are trimmed and rows may
// have a variable number of fields.
func ReadCSV(r io.Reader, opts CSVOptions) (*Sheet, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	out := &Sheet{}
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		if first {
			out.Header = record
			first = false
			continue
		}
		if blank(record) {
			continue
		}
		out.Rows = append(out.Rows, record)
	}
	if first {
		return nil, eris.New("csv: empty document")
	}
	return out, nil
}
