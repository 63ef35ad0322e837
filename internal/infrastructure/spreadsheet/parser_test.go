package spreadsheet

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

func TestParseCSVWithAliasesAndCleanup(t *testing.T) {
	body := "\ufeffTransaction Date,Payee,Amount,Reference\n" +
		"2026-04-02,Coffee,\"(4.50)\",r-1\n" +
		",,,\n" +
		"04/03/2026,Salary,\"$1,250.00\",r-2\n"

	records, err := NewParser().Parse(context.Background(), "csv", strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, domain.RawValue("-4.50"), records[0].Amount)
	require.Equal(t, "Coffee", records[0].Description)
	require.Equal(t, "r-1", records[0].ExternalID)
	require.Equal(t, domain.RawValue("1250.00"), records[1].Amount)
	require.Equal(t, domain.RawValue("04/03/2026"), records[1].Date)
}

func TestParseCSVDebitCreditColumns(t *testing.T) {
	body := "Date,Description,Paid out,Paid in\n" +
		"2026-04-02,Rent,300.00,\n" +
		"2026-04-03,Refund,,20.00\n"

	records, err := NewParser().Parse(context.Background(), "csv", strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, domain.RawValue("-300"), records[0].Amount)
	require.Equal(t, domain.RawValue("20.00"), records[1].Amount)
}

func TestParseKeepsBadValuesForNormalization(t *testing.T) {
	body := "date,description,amount\n2026-04-02,Lunch,abc\n"

	records, err := NewParser().Parse(context.Background(), "csv", strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, domain.RawValue("abc"), records[0].Amount)

	_, err = records[0].Normalize("src-1", "acc-1")
	require.True(t, domain.IsKind(err, domain.ErrMalformedRecord))
}

func TestParseRejectsMissingColumns(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), "csv", strings.NewReader("when,what\n2026-01-01,x\n"))
	require.True(t, domain.IsKind(err, domain.ErrInvalidInput), "got %v", err)
}

func TestParseRejectsUnknownFormat(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), "ods", strings.NewReader(""))
	require.True(t, domain.IsKind(err, domain.ErrInvalidInput), "got %v", err)
}

func TestParseXLSXConvertsSerialDates(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Date", "Description", "Amount", "ID"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"2026-04-01", "Groceries", -42.1, "x-1"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{46114, "Salary", 1000, "x-2"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := NewParser().Parse(context.Background(), "xlsx", buf)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, domain.RawValue("-42.1"), records[0].Amount)
	require.Equal(t, domain.RawValue("2026-04-01"), records[0].Date)
	require.Equal(t, domain.RawValue("2026-04-02"), records[1].Date)
	require.Equal(t, "x-2", records[1].ExternalID)

	txn, err := records[1].Normalize("src-1", "acc-1")
	require.NoError(t, err)
	require.Equal(t, "1000", txn.Amount.String())
}
