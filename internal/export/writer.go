// Package export streams canonical entity tables to the public file
// formats: JSON, GeoJSON, CSV and newline-delimited JSON.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/database"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/entity"
)

// ExportVersion is written in the metadata of every export file.
const ExportVersion = "2.0.0"

// GeohashPrecision is the length of the centroid geohash in GeoJSON properties.
const GeohashPrecision = 9

// Format is an export file format.
type Format string

// Supported formats
const (
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
	FormatCSV     Format = "csv"
	FormatNDJSON  Format = "ndjson"
)

// Formats lists every supported format in the order files are written.
var Formats = []Format{FormatJSON, FormatGeoJSON, FormatCSV, FormatNDJSON}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Metadata heads the JSON and NDJSON files.
type Metadata struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Writer receives canonical rows one at a time. Close finishes the
// document and flushes; it does not close the underlying io.Writer.
type Writer interface {
	Write(row database.Row) error
	Close() error
}

// NewWriter creates a streaming writer of format f for rows of typ.
func NewWriter(f Format, w io.Writer, typ *entity.Type, meta Metadata) (Writer, error) {
	bw := bufio.NewWriter(w)
	switch f {
	case FormatJSON:
		return &jsonWriter{w: bw, typ: typ, meta: meta}, nil
	case FormatGeoJSON:
		return &geojsonWriter{w: bw}, nil
	case FormatCSV:
		return &csvWriter{buf: bw, w: csv.NewWriter(bw), columns: csvColumns(typ)}, nil
	case FormatNDJSON:
		return &ndjsonWriter{w: bw, enc: json.NewEncoder(bw), typ: typ, meta: meta}, nil
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// ============================
// JSON
// ============================

// jsonWriter writes {"version":...,"timestamp":...,"datos":[...]}.
type jsonWriter struct {
	w       *bufio.Writer
	typ     *entity.Type
	meta    Metadata
	started bool
	n       int
}

func (j *jsonWriter) header() error {
	if j.started {
		return nil
	}
	j.started = true
	meta, err := json.Marshal(j.meta)
	if err != nil {
		return err
	}
	// Reopen the metadata object to append the data array.
	if _, err := j.w.Write(meta[:len(meta)-1]); err != nil {
		return err
	}
	_, err = j.w.WriteString(`,"datos":[`)
	return err
}

func (j *jsonWriter) Write(row database.Row) error {
	if err := j.header(); err != nil {
		return err
	}
	b, err := json.Marshal(j.typ.Document(row))
	if err != nil {
		return err
	}
	if j.n > 0 {
		if err := j.w.WriteByte(','); err != nil {
			return err
		}
	}
	j.n++
	_, err = j.w.Write(b)
	return err
}

func (j *jsonWriter) Close() error {
	if err := j.header(); err != nil {
		return err
	}
	if _, err := j.w.WriteString("]}\n"); err != nil {
		return err
	}
	return j.w.Flush()
}

// ============================
// GeoJSON
// ============================

// geojsonWriter writes a FeatureCollection of centroid points with flat
// properties.
type geojsonWriter struct {
	w       *bufio.Writer
	started bool
	n       int
}

func (g *geojsonWriter) header() error {
	if g.started {
		return nil
	}
	g.started = true
	_, err := g.w.WriteString(`{"type":"FeatureCollection","features":[`)
	return err
}

func (g *geojsonWriter) Write(row database.Row) error {
	if err := g.header(); err != nil {
		return err
	}
	lon, _ := row.Float(entity.ColLon)
	lat, _ := row.Float(entity.ColLat)

	props := make(geojson.Properties, len(row))
	for k, v := range row {
		switch k {
		case entity.ColGeometry, entity.ColLon, entity.ColLat:
			continue
		}
		props[k] = v
	}
	props["geohash"] = geohash.EncodeWithPrecision(lat, lon, GeohashPrecision)

	f := geojson.NewFeature(orb.Point{lon, lat})
	f.Properties = props
	b, err := f.MarshalJSON()
	if err != nil {
		return err
	}
	if g.n > 0 {
		if err := g.w.WriteByte(','); err != nil {
			return err
		}
	}
	g.n++
	_, err = g.w.Write(b)
	return err
}

func (g *geojsonWriter) Close() error {
	if err := g.header(); err != nil {
		return err
	}
	if _, err := g.w.WriteString("]}\n"); err != nil {
		return err
	}
	return g.w.Flush()
}

// ============================
// CSV
// ============================

// csvColumns returns the canonical columns without the geometry, common
// columns first and the rest sorted.
func csvColumns(typ *entity.Type) []string {
	var common, rest []string
	for i, c := range typ.TableDef().ColumnNames() {
		if c == entity.ColGeometry {
			continue
		}
		if i < 7 {
			common = append(common, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	return append(common, rest...)
}

type csvWriter struct {
	buf     *bufio.Writer
	w       *csv.Writer
	columns []string
	started bool
}

func (c *csvWriter) header() error {
	if c.started {
		return nil
	}
	c.started = true
	return c.w.Write(c.columns)
}

func (c *csvWriter) Write(row database.Row) error {
	if err := c.header(); err != nil {
		return err
	}
	record := make([]string, len(c.columns))
	for i, col := range c.columns {
		record[i] = row.String(col)
	}
	return c.w.Write(record)
}

func (c *csvWriter) Close() error {
	if err := c.header(); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	return c.buf.Flush()
}

// ============================
// NDJSON
// ============================

// ndjsonWriter writes the metadata on the first line, then one entity per line.
type ndjsonWriter struct {
	w       *bufio.Writer
	enc     *json.Encoder
	typ     *entity.Type
	meta    Metadata
	started bool
}

func (n *ndjsonWriter) header() error {
	if n.started {
		return nil
	}
	n.started = true
	return n.enc.Encode(n.meta)
}

func (n *ndjsonWriter) Write(row database.Row) error {
	if err := n.header(); err != nil {
		return err
	}
	return n.enc.Encode(n.typ.Document(row))
}

func (n *ndjsonWriter) Close() error {
	if err := n.header(); err != nil {
		return err
	}
	return n.w.Flush()
}
