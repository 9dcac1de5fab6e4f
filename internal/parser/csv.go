// Package parser reads bank statement CSV files into bank
// transactions. It accepts the common export shape (date, amount,
// payee, optional memo) with a handful of header aliases; amounts are
// parsed exactly and malformed literals fail the row rather than
// silently becoming zero.
package parser

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
)

// statementRow is one raw CSV row. Fields stay strings here; parsing
// into typed values happens in convert so each failure carries its row
// number.
type statementRow struct {
	Date        string `csv:"Date"`
	Amount      string `csv:"Amount"`
	Payee       string `csv:"Payee"`
	Description string `csv:"Description"`
	Memo        string `csv:"Memo"`
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
	"02.01.2006",
	"Jan 2, 2006",
}

// ParseFile reads a statement CSV from disk.
func ParseFile(path string) ([]model.BankTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open statement: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f)
}

// Parse reads a statement CSV from a reader.
func Parse(r io.Reader) ([]model.BankTransaction, error) {
	var rows []*statementRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("read statement CSV: %w", err)
	}

	txns := make([]model.BankTransaction, 0, len(rows))
	for i, row := range rows {
		// Row numbers are 1-based and include the header line.
		rowNum := i + 2
		if isEmpty(row) {
			continue
		}
		txn, err := convert(row, rowNum)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func isEmpty(row *statementRow) bool {
	return strings.TrimSpace(row.Date) == "" &&
		strings.TrimSpace(row.Amount) == "" &&
		strings.TrimSpace(row.Payee) == "" &&
		strings.TrimSpace(row.Description) == ""
}

func convert(row *statementRow, rowNum int) (model.BankTransaction, error) {
	date, err := parseDate(row.Date)
	if err != nil {
		return model.BankTransaction{}, err
	}

	amount, err := money.ParseMilli(cleanAmount(row.Amount))
	if err != nil {
		return model.BankTransaction{}, err
	}

	payee := strings.TrimSpace(row.Payee)
	if payee == "" {
		payee = strings.TrimSpace(row.Description)
	}
	if payee == "" {
		return model.BankTransaction{}, fmt.Errorf("missing payee/description")
	}

	return model.BankTransaction{
		ID:          uuid.NewString(),
		Date:        date,
		AmountMilli: amount,
		Payee:       payee,
		Memo:        strings.TrimSpace(row.Memo),
		OriginalRow: rowNum,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// cleanAmount strips currency symbols and thousands separators that
// bank exports wrap around the numeric value. Parenthesized amounts
// are negative.
func cleanAmount(s string) string {
	trimmed := strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(trimmed, "(") && strings.HasSuffix(trimmed, ")") {
		negative = true
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	trimmed = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(trimmed)
	if negative && !strings.HasPrefix(trimmed, "-") {
		trimmed = "-" + trimmed
	}
	return trimmed
}
