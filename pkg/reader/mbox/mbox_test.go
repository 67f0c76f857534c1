package mbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/extract"
	"github.com/ArionMiles/upiledger/pkg/parser"
)

func TestFetch(t *testing.T) {
	r, err := New(Config{Path: filepath.Join("testdata", "alerts.mbox")}, nil)
	require.NoError(t, err)

	emails, err := r.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 3)

	assert.Equal(t, "credit-987654@hdfcbank.net", emails[0].ID)
	assert.Equal(t, "❗ You have done a UPI txn", emails[0].Snippet)
	assert.Equal(t, "mbox-1", emails[1].ID, "message without Message-ID gets a positional id")
	assert.Equal(t, "sale-1@shop.example", emails[2].ID)
}

func TestFetchFiltersBySender(t *testing.T) {
	r, err := New(Config{Path: filepath.Join("testdata", "alerts.mbox"), From: "ALERTS@hdfcbank.net"}, nil)
	require.NoError(t, err)

	emails, err := r.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 2)

	p := parser.Default()

	credit, err := p.Parse(extract.Content(emails[0]), emails[0].ID)
	require.NoError(t, err)
	assert.Equal(t, api.Credit, credit.Type)
	assert.Equal(t, "1250.5", credit.Amount.String())
	assert.Equal(t, "1234", credit.Account)
	assert.Equal(t, "Jane Doe (jane@upi)", credit.Counterparty)
	assert.Equal(t, "987654", credit.Reference)

	debit, err := p.Parse(extract.Content(emails[1]), emails[1].ID)
	require.NoError(t, err)
	assert.Equal(t, api.Debit, debit.Type)
	assert.Equal(t, "SWIGGY (swiggy@icici)", debit.Counterparty)
	assert.Equal(t, "0042917", debit.Reference)
}

func TestFetchMissingFile(t *testing.T) {
	r, err := New(Config{Path: filepath.Join(t.TempDir(), "nope.mbox")}, nil)
	require.NoError(t, err)

	_, err = r.Fetch(context.Background())
	assert.Error(t, err)
}

func TestReadCancelled(t *testing.T) {
	r, err := New(Config{Path: "unused"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emails, err := r.Read(ctx, strings.NewReader("From a@b Thu Jan  1 00:00:00 2024\nSubject: x\n\nbody\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, emails)
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantMime string
		wantText string
	}{
		{
			name:     "plain without headers",
			raw:      "Subject: hi\r\n\r\nhello world",
			wantMime: "text/plain",
			wantText: "hello world",
		},
		{
			name: "latin-1 quoted-printable",
			raw: "Content-Type: text/plain; charset=iso-8859-1\r\n" +
				"Content-Transfer-Encoding: quoted-printable\r\n\r\n" +
				"caf=E9 bill",
			wantMime: "text/plain",
			wantText: "café bill",
		},
		{
			name: "nested multipart",
			raw: "Content-Type: multipart/mixed; boundary=outer\r\n\r\n" +
				"--outer\r\n" +
				"Content-Type: multipart/alternative; boundary=inner\r\n\r\n" +
				"--inner\r\n" +
				"Content-Type: text/html\r\n\r\n" +
				"<b>html</b>\r\n" +
				"--inner\r\n" +
				"Content-Type: text/plain\r\n" +
				"Content-Transfer-Encoding: base64\r\n\r\n" +
				"aW5uZXIg\r\ndGV4dA==\r\n" +
				"--inner--\r\n" +
				"--outer--\r\n",
			wantMime: "multipart/mixed",
			wantText: "inner text",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := message.Read(strings.NewReader(tc.raw))
			require.NoError(t, err)

			got, err := Convert(msg)
			require.NoError(t, err)
			assert.Equal(t, tc.wantMime, got.Payload.MimeType)
			assert.Equal(t, tc.wantText, extract.Content(got))
		})
	}
}

func TestConvertMultipartWithoutBoundary(t *testing.T) {
	msg, err := message.Read(strings.NewReader("Content-Type: multipart/mixed\r\n\r\nbody"))
	require.NoError(t, err)

	_, err = Convert(msg)
	assert.Error(t, err)
}

func TestConvertNestedAlternativeWindows1252(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "nested-cp1252.eml"))
	require.NoError(t, err)
	defer f.Close()

	msg, err := message.Read(f)
	require.NoError(t, err)

	email, err := Convert(msg)
	require.NoError(t, err)

	assert.Equal(t, "debit-5550123@hdfcbank.net", email.ID)
	assert.Equal(t, "Café payment alert", email.Snippet)
	require.Len(t, email.Payload.Parts, 2)
	assert.Equal(t, "multipart/alternative", email.Payload.Parts[0].MimeType)
	assert.Equal(t, "application/pdf", email.Payload.Parts[1].MimeType)

	txn, err := parser.Default().Parse(extract.Content(email), email.ID)
	require.NoError(t, err)
	assert.Equal(t, api.Debit, txn.Type)
	assert.Equal(t, "2340", txn.Amount.String())
	assert.Equal(t, "CAFÉ MOCHA – BANDRA (cafemocha@okaxis)", txn.Counterparty)
	assert.Equal(t, "5550123", txn.Reference)
}

func TestConvertUnknownCharsetPassesThrough(t *testing.T) {
	raw := "Content-Type: text/plain; charset=x-made-up\r\n\r\nplain ascii"
	msg, err := message.Read(strings.NewReader(raw))
	require.True(t, message.IsUnknownCharset(err))

	email, err := Convert(msg)
	require.NoError(t, err)
	assert.Equal(t, "plain ascii", extract.Content(email))
}
