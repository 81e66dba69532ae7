package table

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/centromex/rental-bot/internal/models"
)

// Column headers of the request table, in canonical order.
const (
	ColMessageID   = "Message ID"
	ColName        = "Name"
	ColProductName = "Product Name"
	ColMode        = "Rent or Buy"
	ColPhone       = "Phone No"
	ColQuery       = "Query"
	ColStatus      = "Status"
)

// Columns is the required schema.
var Columns = []string{ColMessageID, ColName, ColProductName, ColMode, ColPhone, ColQuery, ColStatus}

// sheet is the decoded table: schema rows plus any operator-added columns.
type sheet struct {
	extra   []string
	records []models.Record
}

func (sh *sheet) indexOf(id int64) int {
	for i, rec := range sh.records {
		if rec.ID.Valid && rec.ID.Int64 == id {
			return i
		}
	}
	return -1
}

// decode parses CSV content. It returns the schema columns absent from the
// header; their values are filled with defaults.
func decode(data []byte) (sheet, []string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return sheet{}, append([]string(nil), Columns...), nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return sheet{}, nil, &CorruptError{Line: 1, Reason: err.Error()}
	}

	pos := make(map[string]int, len(header))
	var extra []string
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			// Spreadsheets save stray blank header cells; keep their values under a name.
			name = unnamedColumn(i)
		}
		if _, dup := pos[name]; dup {
			return sheet{}, nil, &CorruptError{Line: 1, Column: name, Reason: "duplicate column"}
		}
		pos[name] = i
		if !isSchemaColumn(name) {
			extra = append(extra, name)
		}
	}

	var missing []string
	for _, col := range Columns {
		if _, ok := pos[col]; !ok {
			missing = append(missing, col)
		}
	}

	sh := sheet{extra: extra}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return sheet{}, nil, &CorruptError{Line: parseErr.Line, Reason: parseErr.Err.Error()}
			}
			return sheet{}, nil, &CorruptError{Reason: err.Error()}
		}
		line, _ := r.FieldPos(0)
		if len(row) > len(header) {
			return sheet{}, nil, &CorruptError{Line: line, Reason: "more fields than header columns"}
		}

		cell := func(col string) string {
			i, ok := pos[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		id, err := parseID(cell(ColMessageID))
		if err != nil {
			return sheet{}, nil, &CorruptError{Line: line, Column: ColMessageID, Reason: err.Error()}
		}
		rec := models.Record{
			ID:          id,
			Name:        cell(ColName),
			ProductName: cell(ColProductName),
			Mode:        cell(ColMode),
			Phone:       cell(ColPhone),
			Query:       cell(ColQuery),
			Status:      cell(ColStatus),
		}
		if len(extra) > 0 {
			rec.Extra = make(map[string]string, len(extra))
			for _, col := range extra {
				rec.Extra[col] = cell(col)
			}
		}
		sh.records = append(sh.records, rec)
	}
	return sh, missing, nil
}

func encode(sh sheet) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append(append([]string(nil), Columns...), sh.extra...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range sh.records {
		row := []string{
			formatID(rec.ID),
			rec.Name,
			rec.ProductName,
			rec.Mode,
			rec.Phone,
			rec.Query,
			rec.Status,
		}
		for _, col := range sh.extra {
			row = append(row, rec.Extra[col])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseID accepts integers and integral floats ("111.0"), which spreadsheet
// tools sometimes write back.
func parseID(raw string) (sql.NullInt64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sql.NullInt64{}, nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return sql.NullInt64{Int64: v, Valid: true}, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return sql.NullInt64{}, errors.New("not an integer: " + strconv.Quote(raw))
	}
	return sql.NullInt64{Int64: int64(f), Valid: true}, nil
}

func formatID(id sql.NullInt64) string {
	if !id.Valid {
		return ""
	}
	return strconv.FormatInt(id.Int64, 10)
}

func unnamedColumn(i int) string {
	return "Unnamed: " + strconv.Itoa(i)
}

func isSchemaColumn(name string) bool {
	for _, col := range Columns {
		if col == name {
			return true
		}
	}
	return false
}
