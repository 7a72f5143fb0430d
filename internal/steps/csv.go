package steps

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
)

// CSVLoader loads a delimited text file into a staging table of text
// columns named after the lowercased header.
type CSVLoader struct {
	// Comma is the field delimiter; zero means ','
	Comma rune
}

var _ TableLoader = (*CSVLoader)(nil)

// decoderFor returns the text decoder of an encoding name.
func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "-", "")) {
	case "", "UTF8":
		return unicode.UTF8BOM.NewDecoder(), nil
	case "LATIN1", "ISO88591":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "WINDOWS1252", "CP1252":
		return charmap.Windows1252.NewDecoder(), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// Load streams the file into the staging table in bulk-size batches.
func (c *CSVLoader) Load(ctx context.Context, ectx *etl.Context, spec LoadSpec) (Table, error) {
	if ectx.Session == nil {
		return Table{}, ErrNoSession
	}
	dec, err := decoderFor(spec.Encoding)
	if err != nil {
		return Table{}, errhandling.NewProcessError("load", errhandling.CodeSchemaMismatch, spec.Source, err)
	}

	f, err := ectx.FS.Open(spec.Source)
	if err != nil {
		return Table{}, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(dec.Reader(f))
	if c.Comma != 0 {
		r.Comma = c.Comma
	}
	header, err := r.Read()
	if err != nil {
		return Table{}, errhandling.NewProcessError("load", errhandling.CodeSchemaMismatch, "cannot read header of "+spec.Source, err)
	}
	cols := make([]database.Column, len(header))
	for i, h := range header {
		cols[i] = database.Column{Name: strings.ToLower(strings.TrimSpace(h)), Type: database.TypeText}
	}

	def := stagingDef(spec.Table, cols)
	if err := recreate(ctx, ectx.Session, def); err != nil {
		return Table{}, err
	}

	bulk := ectx.BulkSize()
	batch := make([]database.Row, 0, bulk)
	var n int64
	flush := func() error {
		if err := ectx.Session.BulkInsert(ctx, spec.Table, def.ColumnNames(), batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, errhandling.NewProcessError("load", errhandling.CodeSchemaMismatch, "malformed "+spec.Source, err)
		}
		n++
		row := database.Row{database.StagingKeyField: n}
		for i, col := range cols {
			if col.Name == database.StagingKeyField {
				continue
			}
			row[col.Name] = record[i]
		}
		batch = append(batch, row)
		if len(batch) >= bulk {
			if err := flush(); err != nil {
				return Table{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Table{}, err
	}
	return Table{Name: spec.Table, Rows: n}, nil
}
