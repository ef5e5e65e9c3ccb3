package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
)

const readBatch = 1000

// placeRow is the subset of an FSQ OS Places row the loader needs.
type placeRow struct {
	ID         string
	Name       string
	Latitude   *float64
	Longitude  *float64
	Labels     []string
	DateClosed *string
}

// placeCallback receives each row with its position. Returning false stops the read.
type placeCallback func(row *placeRow, fileIndex, rowInFile int) bool

// parquetReader streams places parquet files in name order.
type parquetReader struct {
	files []string
}

func newParquetReader(dataDir string) (*parquetReader, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("glob parquet files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files found in %s", dataDir)
	}
	sort.Strings(files)
	return &parquetReader{files: files}, nil
}

// ReadPlaces reads from file fileIndex starting at rowOffset. maxRows=0 is unlimited.
func (r *parquetReader) ReadPlaces(fileIndex, rowOffset, maxRows int, cb placeCallback) error {
	remaining := maxRows
	for fi := fileIndex; fi < len(r.files); fi++ {
		skip := 0
		if fi == fileIndex {
			skip = rowOffset
		}
		n, stopped, err := readFile(r.files[fi], fi, skip, remaining, cb)
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(r.files[fi]), err)
		}
		if stopped {
			return nil
		}
		if maxRows > 0 {
			remaining -= n
			if remaining <= 0 {
				return nil
			}
		}
	}
	return nil
}

// placeColumns are leaf column indexes, -1 when absent.
type placeColumns struct {
	id, name, latitude, longitude, labels, dateClosed int
}

func resolveColumns(pf *parquet.File) placeColumns {
	cols := placeColumns{id: -1, name: -1, latitude: -1, longitude: -1, labels: -1, dateClosed: -1}
	for i, path := range pf.Schema().Columns() {
		if len(path) == 0 {
			continue
		}
		switch path[0] {
		case "fsq_place_id":
			cols.id = i
		case "name":
			cols.name = i
		case "latitude":
			cols.latitude = i
		case "longitude":
			cols.longitude = i
		case "fsq_category_labels":
			cols.labels = i
		case "date_closed":
			cols.dateClosed = i
		}
	}
	return cols
}

// readFile returns the rows handed to cb and whether cb asked to stop.
func readFile(path string, fileIndex, skip, maxRows int, cb placeCallback) (int, bool, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, false, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("stat: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return 0, false, fmt.Errorf("open parquet: %w", err)
	}
	cols := resolveColumns(pf)

	pos := 0
	read := 0
	buf := make([]parquet.Row, readBatch)
	for _, rg := range pf.RowGroups() {
		groupRows := int(rg.NumRows())
		if pos+groupRows <= skip {
			pos += groupRows
			continue
		}
		rows := parquet.NewRowGroupReader(rg)
		for {
			n, readErr := rows.ReadRows(buf)
			for i := range n {
				if pos < skip {
					pos++
					continue
				}
				place := toPlaceRow(buf[i], cols)
				if !cb(&place, fileIndex, pos) {
					return read, true, nil
				}
				pos++
				read++
				if maxRows > 0 && read >= maxRows {
					return read, false, nil
				}
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return read, false, fmt.Errorf("read rows: %w", readErr)
			}
		}
	}
	return read, false, nil
}

func toPlaceRow(row parquet.Row, cols placeColumns) placeRow {
	var p placeRow
	for _, v := range row {
		if v.IsNull() {
			continue
		}
		switch v.Column() {
		case cols.id:
			p.ID = v.String()
		case cols.name:
			p.Name = v.String()
		case cols.latitude:
			f := v.Double()
			p.Latitude = &f
		case cols.longitude:
			f := v.Double()
			p.Longitude = &f
		case cols.labels:
			p.Labels = append(p.Labels, v.String())
		case cols.dateClosed:
			s := v.String()
			p.DateClosed = &s
		}
	}
	return p
}
