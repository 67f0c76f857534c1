package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/upiledger/pkg/api"
)

func txn(ref string, amount string) *api.Transaction {
	return &api.Transaction{
		Type:         api.Debit,
		Amount:       decimal.RequireFromString(amount),
		Account:      "1234",
		Counterparty: "SWIGGY (swiggy@icici)",
		Date:         time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Reference:    ref,
		Category:     api.Dining,
		SourceID:     "m-" + ref,
	}
}

func write(t *testing.T, path string, txns ...*api.Transaction) {
	t.Helper()

	w, err := New(Config{FilePath: path, BatchSize: 2}, nil)
	require.NoError(t, err)

	ch := make(chan *api.Transaction, len(txns))
	for _, x := range txns {
		ch <- x
	}
	close(ch)
	require.NoError(t, w.Write(context.Background(), ch))
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	write(t, path, txn("0042917", "499"), txn("2", "0.5"), txn("3", "12.345"))

	rows := readAll(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"2024-03-06", "debit", "499.00", "1234", "SWIGGY (swiggy@icici)", "Dining", "0042917", "m-0042917"}, rows[1])
	assert.Equal(t, "0.50", rows[2][2])
	assert.Equal(t, "12.35", rows[3][2])
}

func TestWriterAppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	write(t, path, txn("1", "1"))
	write(t, path, txn("2", "2"))

	rows := readAll(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "1", rows[1][6])
	assert.Equal(t, "2", rows[2][6])
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
