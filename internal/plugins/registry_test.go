package plugins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/upiledger/pkg/api"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	var readers, writers []string
	for _, p := range r.ListReaders() {
		readers = append(readers, p.Name())
		assert.NotEmpty(t, p.Description())
		assert.Equal(t, "object", p.ConfigSchema()["type"])
	}
	for _, p := range r.ListWriters() {
		writers = append(writers, p.Name())
		assert.NotEmpty(t, p.Description())
		assert.Equal(t, "object", p.ConfigSchema()["type"])
	}

	assert.Equal(t, []string{"gmail", "mbox"}, readers)
	assert.Equal(t, []string{"csv", "json", "sheets"}, writers)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterWriter(&CSVPlugin{}))
	assert.Error(t, r.RegisterWriter(&CSVPlugin{}))
	require.NoError(t, r.RegisterReader(&MboxPlugin{}))
	assert.Error(t, r.RegisterReader(&MboxPlugin{}))
}

func TestGetUnknown(t *testing.T) {
	r := Default()

	_, err := r.GetWriter("bigquery")
	assert.ErrorContains(t, err, "csv, json, sheets")

	_, err = r.GetReader("imap")
	assert.ErrorContains(t, err, "gmail, mbox")
}

func TestScopes(t *testing.T) {
	r := Default()

	scopes, err := r.Scopes("gmail", "sheets")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{gmailapi.GmailReadonlyScope, sheetsapi.SpreadsheetsScope}, scopes)

	scopes, err = r.Scopes("mbox", "csv")
	require.NoError(t, err)
	assert.Empty(t, scopes)

	scopes, err = r.Scopes("", "sheets")
	require.NoError(t, err)
	assert.Equal(t, []string{sheetsapi.SpreadsheetsScope}, scopes)

	_, err = r.Scopes("gmail", "nope")
	assert.Error(t, err)
}

func TestCreateFileWriters(t *testing.T) {
	r := Default()
	ctx := context.Background()

	for _, name := range []string{"csv", "json"} {
		t.Run(name, func(t *testing.T) {
			_, err := r.CreateWriter(ctx, name, nil, nil, nil)
			assert.ErrorContains(t, err, "filePath is required")

			_, err = r.CreateWriter(ctx, name, nil, json.RawMessage(`{"filePath": 1}`), nil)
			assert.Error(t, err)

			path := filepath.Join(t.TempDir(), "out."+name)
			cfg, _ := json.Marshal(FileConfig{FilePath: path, BatchSize: 1})
			w, err := r.CreateWriter(ctx, name, nil, cfg, nil)
			require.NoError(t, err)

			ch := make(chan *api.Transaction, 1)
			ch <- &api.Transaction{
				Type:      api.Debit,
				Amount:    decimal.NewFromInt(5),
				Date:      time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
				Reference: "0042917",
			}
			close(ch)
			require.NoError(t, w.Write(ctx, ch))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Contains(t, string(data), "0042917")
		})
	}
}

func TestCreateSheetsWriterValidation(t *testing.T) {
	r := Default()
	ctx := context.Background()

	_, err := r.CreateWriter(ctx, "sheets", nil, json.RawMessage(`{}`), nil)
	assert.ErrorContains(t, err, "sheetName")

	_, err = r.CreateWriter(ctx, "sheets", nil, json.RawMessage(`{"sheetName": "T"}`), nil)
	assert.ErrorContains(t, err, "sheetId or sheetTitle")

	_, err = r.CreateWriter(ctx, "sheets", nil, json.RawMessage(`{"sheetName": "T", "sheetTitle": "L"}`), nil)
	assert.ErrorContains(t, err, "authenticated client")
}

func TestRetryConfigPolicy(t *testing.T) {
	p := RetryConfig{MaxAttempts: 3, BaseDelayMS: 200, Multiplier: 1.5, MaxJitterMS: 50}.Policy()

	assert.Equal(t, uint(3), p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 1.5, p.Multiplier)
	assert.Equal(t, 50*time.Millisecond, p.MaxJitter)
}

func TestCreateReaders(t *testing.T) {
	r := Default()
	ctx := context.Background()

	_, err := r.CreateReader(ctx, "gmail", nil, nil, nil)
	assert.ErrorContains(t, err, "authenticated client")

	_, err = r.CreateReader(ctx, "mbox", nil, json.RawMessage(`{}`), nil)
	assert.Error(t, err)

	rd, err := r.CreateReader(ctx, "mbox", nil, json.RawMessage(`{"path": "x.mbox"}`), nil)
	require.NoError(t, err)
	assert.NotNil(t, rd)
}
