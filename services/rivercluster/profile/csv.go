// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ReadFile loads a profile table from a CSV file.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile table: %w", err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// Read parses a delimited profile table with a header row.
//
// Description:
//
//	Column presence is checked once against the header; a table missing
//	any of RequiredColumns fails with *MissingColumnError before any row is
//	parsed. Optional columns (node, stream_order, slope, latitude,
//	longitude) are picked up when present. Unknown columns are ignored.
//	Empty or "nan" slope cells become NaN. Source ids written as floats
//	("12.0") are accepted when integral. The grouped table is validated
//	before it is returned, so "nan" or "inf" in a required column fails here.
//
// Inputs:
//
//	r - CSV source.
//
// Outputs:
//
//	*Table - The grouped, distance-sorted table.
//	error - *MissingColumnError, *ParseError, *InvalidProfileError,
//	        ErrMissingHeader or ErrEmptyTable.
func Read(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnError{Columns: missing}
	}

	_, hasNode := index[ColNode]
	_, hasOrder := index[ColStreamOrder]
	_, hasSlope := index[ColSlope]
	_, hasLat := index[ColLatitude]
	_, hasLon := index[ColLongitude]
	cols := Columns{Node: hasNode, StreamOrder: hasOrder, Slope: hasSlope, LatLon: hasLat && hasLon}

	var nodes []Node
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		n, err := parseRecord(record, index, cols, line)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	if len(nodes) == 0 {
		return nil, ErrEmptyTable
	}
	t := NewTable(nodes, cols)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func parseRecord(record []string, index map[string]int, cols Columns, line int) (Node, error) {
	cell := func(col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	float := func(col string) (float64, error) {
		v, err := strconv.ParseFloat(cell(col), 64)
		if err != nil {
			return 0, &ParseError{Line: line, Column: col, Value: cell(col), Err: err}
		}
		return v, nil
	}
	integer := func(col string) (int64, error) {
		raw := cell(col)
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
			if err == nil {
				err = errors.New("not an integer")
			}
			return 0, &ParseError{Line: line, Column: col, Value: raw, Err: err}
		}
		return int64(f), nil
	}

	var n Node
	var err error
	if n.SourceID, err = integer(ColID); err != nil {
		return n, err
	}
	if n.DistanceFromSource, err = float(ColDistanceFromSource); err != nil {
		return n, err
	}
	if n.DistanceFromOutlet, err = float(ColDistanceFromOutlet); err != nil {
		return n, err
	}
	if n.Elevation, err = float(ColElevation); err != nil {
		return n, err
	}
	if n.DrainageArea, err = float(ColDrainageArea); err != nil {
		return n, err
	}

	n.Slope = math.NaN()
	if cols.Slope && cell(ColSlope) != "" {
		if n.Slope, err = float(ColSlope); err != nil {
			return n, err
		}
	}
	if cols.Node {
		if n.NodeID, err = integer(ColNode); err != nil {
			return n, err
		}
	}
	if cols.StreamOrder {
		order, err := integer(ColStreamOrder)
		if err != nil {
			return n, err
		}
		n.StreamOrder = int(order)
	}
	if cols.LatLon {
		if n.Latitude, err = float(ColLatitude); err != nil {
			return n, err
		}
		if n.Longitude, err = float(ColLongitude); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Header returns the column names written for a table with the given
// optional columns, in output order.
func Header(cols Columns) []string {
	header := []string{ColID}
	if cols.Node {
		header = append(header, ColNode)
	}
	header = append(header, ColDistanceFromSource, ColDistanceFromOutlet, ColElevation, ColDrainageArea)
	if cols.StreamOrder {
		header = append(header, ColStreamOrder)
	}
	if cols.LatLon {
		header = append(header, ColLatitude, ColLongitude)
	}
	if cols.Slope {
		header = append(header, ColSlope)
	}
	return header
}

// Record formats a node in the column order of Header(cols).
func Record(n Node, cols Columns) []string {
	rec := []string{strconv.FormatInt(n.SourceID, 10)}
	if cols.Node {
		rec = append(rec, strconv.FormatInt(n.NodeID, 10))
	}
	rec = append(rec,
		FormatFloat(n.DistanceFromSource),
		FormatFloat(n.DistanceFromOutlet),
		FormatFloat(n.Elevation),
		FormatFloat(n.DrainageArea),
	)
	if cols.StreamOrder {
		rec = append(rec, strconv.Itoa(n.StreamOrder))
	}
	if cols.LatLon {
		rec = append(rec, FormatFloat(n.Latitude), FormatFloat(n.Longitude))
	}
	if cols.Slope {
		rec = append(rec, FormatFloat(n.Slope))
	}
	return rec
}

// FormatFloat renders a value for CSV output; NaN becomes an empty cell.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Write writes the table as CSV with a header row.
func Write(w io.Writer, t *Table) error {
	rows := make([][]string, 0, t.NodeCount())
	for _, p := range t.Profiles {
		for _, n := range p.Nodes {
			rows = append(rows, Record(n, t.Columns))
		}
	}
	return WriteRows(w, Header(t.Columns), rows)
}

// WriteRows writes a header and rows as CSV and flushes.
func WriteRows(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
