// Package spreadsheet reads bank exports (xlsx or csv) into raw records.
package spreadsheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

type column int

const (
	colDate column = iota
	colDescription
	colAmount
	colDebit
	colCredit
	colExternalID
	colAccount
	colPending
)

// headerAliases maps normalized header text to a column.
var headerAliases = map[string]column{
	"date":             colDate,
	"transaction date": colDate,
	"booking date":     colDate,
	"posted":           colDate,
	"posted date":      colDate,
	"description":      colDescription,
	"memo":             colDescription,
	"name":             colDescription,
	"payee":            colDescription,
	"details":          colDescription,
	"amount":           colAmount,
	"value":            colAmount,
	"sum":              colAmount,
	"debit":            colDebit,
	"paid out":         colDebit,
	"withdrawal":       colDebit,
	"credit":           colCredit,
	"paid in":          colCredit,
	"deposit":          colCredit,
	"id":               colExternalID,
	"external_id":      colExternalID,
	"transaction id":   colExternalID,
	"reference":        colExternalID,
	"account":          colAccount,
	"account_id":       colAccount,
	"pending":          colPending,
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

var _ ports.RecordParser = (*Parser)(nil)

// Parse reads the first sheet (xlsx) or the whole file (csv). The first row is
// the header. A file without a date, description and amount column is rejected
// as a whole; bad values inside a row are left for per-record normalization.
func (p *Parser) Parse(_ context.Context, format string, body io.Reader) ([]domain.RawRecord, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(format) {
	case FormatXLSX:
		rows, err = readXLSX(body)
	case FormatCSV:
		rows, err = readCSV(body)
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse spreadsheet", fmt.Errorf("unsupported format %q", format))
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse spreadsheet", err)
	}
	if len(rows) == 0 {
		return []domain.RawRecord{}, nil
	}

	columns, err := mapHeader(rows[0])
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse spreadsheet", err)
	}

	records := make([]domain.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		records = append(records, toRecord(row, columns))
	}
	return records, nil
}

func readXLSX(body io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(body)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	// Raw values keep dates as serial numbers and amounts unformatted.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	for _, row := range rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
	}
	return rows, nil
}

func readCSV(body io.Reader) ([][]string, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func mapHeader(header []string) (map[column]int, error) {
	columns := make(map[column]int)
	for i, name := range header {
		key := strings.ToLower(strings.Join(strings.Fields(name), " "))
		if col, ok := headerAliases[key]; ok {
			if _, seen := columns[col]; !seen {
				columns[col] = i
			}
		}
	}

	if _, ok := columns[colDate]; !ok {
		return nil, errors.New("missing date column")
	}
	if _, ok := columns[colDescription]; !ok {
		return nil, errors.New("missing description column")
	}
	_, hasAmount := columns[colAmount]
	_, hasDebit := columns[colDebit]
	_, hasCredit := columns[colCredit]
	if !hasAmount && !hasDebit && !hasCredit {
		return nil, errors.New("missing amount column")
	}
	return columns, nil
}

func toRecord(row []string, columns map[column]int) domain.RawRecord {
	cell := func(col column) string {
		i, ok := columns[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	amount := cleanAmount(cell(colAmount))
	if amount == "" {
		amount = splitAmount(cell(colDebit), cell(colCredit))
	}
	pending, _ := strconv.ParseBool(cell(colPending))

	return domain.RawRecord{
		ExternalID:  cell(colExternalID),
		AccountID:   cell(colAccount),
		Amount:      domain.RawValue(amount),
		Date:        domain.RawValue(cleanDate(cell(colDate))),
		Description: cell(colDescription),
		Pending:     pending,
	}
}

var amountNoise = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "$", "", "€", "", "£", "")

// cleanAmount drops currency symbols and grouping and turns "(12.00)" into "-12.00".
// Values that still are not numbers are returned as-is for normalization to reject.
func cleanAmount(raw string) string {
	if raw == "" {
		return ""
	}
	value := amountNoise.Replace(raw)
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		value = "-" + strings.Trim(value, "()")
	}
	if _, err := decimal.NewFromString(value); err != nil {
		return raw
	}
	return value
}

// splitAmount merges separate debit and credit columns into one signed amount.
func splitAmount(debit, credit string) string {
	debit, credit = cleanAmount(debit), cleanAmount(credit)
	switch {
	case debit == "" && credit == "":
		return ""
	case debit == "":
		return credit
	case credit == "":
		d, err := decimal.NewFromString(debit)
		if err != nil {
			return debit
		}
		return d.Abs().Neg().String()
	}
	d, errD := decimal.NewFromString(debit)
	c, errC := decimal.NewFromString(credit)
	if errD != nil || errC != nil {
		return debit
	}
	return c.Sub(d.Abs()).String()
}

// cleanDate converts Excel serial dates; text dates pass through.
func cleanDate(raw string) string {
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil || serial < 1 || serial > 2958465 {
		return raw
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02")
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
