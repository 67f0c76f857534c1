package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/categorizer"
	"github.com/ArionMiles/upiledger/pkg/logging"
	"github.com/ArionMiles/upiledger/pkg/orchestrator"
	"github.com/ArionMiles/upiledger/pkg/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCategorizer struct {
	err  error
	last categorizer.Request
}

func (f *fakeCategorizer) CategorizeStrict(_ context.Context, req categorizer.Request) (api.Category, error) {
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	if req.Type == api.Credit {
		return api.Income, nil
	}
	return api.Dining, nil
}

type fakeIngester struct {
	reader api.Reader
	res    *orchestrator.Result
	err    error
}

func (f *fakeIngester) RunOnce(_ context.Context, reader api.Reader) (*orchestrator.Result, error) {
	f.reader = reader
	return f.res, f.err
}

type namedReader string

func (namedReader) Fetch(context.Context) ([]*api.RawEmail, error) { return nil, nil }

type fixture struct {
	srv   *Server
	store *memory.Store
	cat   *fakeCategorizer
	ing   *fakeIngester
	ids   map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		cat:   &fakeCategorizer{},
		ing:   &fakeIngester{res: &orchestrator.Result{}},
		ids:   map[string]string{},
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	seed := []*api.Transaction{
		{UserID: "u1", Type: api.Credit, Amount: decimal.RequireFromString("1250.50"), Counterparty: "Jane Doe (jane@upi)", Reference: "987654", Category: api.Income, Date: today},
		{UserID: "u1", Type: api.Debit, Amount: decimal.RequireFromString("499"), Counterparty: "SWIGGY (swiggy@icici)", Reference: "0042917", Category: api.Dining, Date: today},
		{UserID: "u1", Type: api.Debit, Amount: decimal.RequireFromString("100"), Counterparty: "Metro (metro@upi)", Reference: "777", Category: api.Transportation, Date: today.AddDate(0, 0, -40)},
		{UserID: "other", Type: api.Debit, Amount: decimal.RequireFromString("5"), Counterparty: "X", Reference: "1", Date: today},
	}
	for _, txn := range seed {
		saved, err := f.store.Save(context.Background(), txn)
		require.NoError(t, err)
		f.ids[saved.Reference] = saved.ID
	}

	srv, err := New(Config{UserID: "u1"}, Deps{
		Store:       f.store,
		Categorizer: f.cat,
		Ingester:    f.ing,
		Reader:      namedReader("default"),
		ReaderForToken: func(_ context.Context, token string) (api.Reader, error) {
			if token == "bad" {
				return nil, errors.New("rejected")
			}
			return namedReader(token), nil
		},
	}, logging.Discard())
	require.NoError(t, err)
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{UserID: "u1"}, Deps{}, nil)
	assert.Error(t, err)

	_, err = New(Config{}, Deps{Store: memory.New()}, nil)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		query string
		code  int
		count int
	}{
		{name: "all for user", query: "", code: http.StatusOK, count: 3},
		{name: "search counterparty", query: "?q=swiggy", code: http.StatusOK, count: 1},
		{name: "search reference", query: "?q=9876", code: http.StatusOK, count: 1},
		{name: "month period", query: "?period=month", code: http.StatusOK, count: 2},
		{name: "debits", query: "?type=debit", code: http.StatusOK, count: 2},
		{name: "category", query: "?category=Transportation", code: http.StatusOK, count: 1},
		{name: "bad period", query: "?period=year", code: http.StatusBadRequest},
		{name: "bad type", query: "?type=refund", code: http.StatusBadRequest},
		{name: "bad category", query: "?category=Gadgets", code: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/transactions"+tc.query, "")
			require.Equal(t, tc.code, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			if tc.code != http.StatusOK {
				assert.NotEmpty(t, body["error"])
				return
			}
			assert.EqualValues(t, tc.count, body["count"])
			assert.Len(t, body["transactions"], tc.count)
		})
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/summary?period=month", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var s struct {
		Count      int    `json:"count"`
		Balance    string `json:"balance"`
		Income     string `json:"income"`
		Expenses   string `json:"expenses"`
		Categories []struct {
			Category string `json:"category"`
			Percent  string `json:"percent"`
		} `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))

	assert.Equal(t, 2, s.Count)
	assert.Equal(t, "751.5", s.Balance)
	assert.Equal(t, "1250.5", s.Income)
	assert.Equal(t, "499", s.Expenses)
	require.Len(t, s.Categories, 1)
	assert.Equal(t, "Dining", s.Categories[0].Category)
	assert.Equal(t, "100", s.Categories[0].Percent)
}

func TestCategorize(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/categorize",
		`{"description":"dinner","counterparty":"SWIGGY (swiggy@icici)","amount":"499.00","type":"Debit"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"category":"Dining"}`, rec.Body.String())
	assert.Equal(t, api.Debit, f.cat.last.Type)
	assert.Equal(t, "499", f.cat.last.Amount.String())

	rec = f.do(t, http.MethodPost, "/api/categorize", `{"counterparty":"Jane","amount":10,"type":"credit"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"category":"Income"}`, rec.Body.String())
}

func TestCategorizeErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/categorize", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/categorize", `{"type":"refund"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.cat.err = categorizer.ErrClassificationFailure
	rec = f.do(t, http.MethodPost, "/api/categorize", `{"counterparty":"X","amount":"1","type":"debit"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Failed to categorize")
}

func TestCategorizeWithoutClassifier(t *testing.T) {
	srv, err := New(Config{UserID: "u1"}, Deps{Store: memory.New()}, logging.Discard())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/categorize", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpdateCategory(t *testing.T) {
	f := newFixture(t)
	id := f.ids["0042917"]

	rec := f.do(t, http.MethodPut, "/api/transactions/"+id+"/category", `{"category":"Shopping"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	txn, err := f.store.FindByReference(context.Background(), "u1", "0042917")
	require.NoError(t, err)
	assert.Equal(t, api.Shopping, txn.Category)

	rec = f.do(t, http.MethodPut, "/api/transactions/"+id+"/category", `{"category":"Gadgets"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/transactions/missing/category", `{"category":"Shopping"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Another user's transaction is invisible.
	rec = f.do(t, http.MethodPut, "/api/transactions/"+f.ids["1"]+"/category", `{"category":"Shopping"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	f.ing.res = &orchestrator.Result{
		Saved:   []*api.Transaction{{Reference: "111", Type: api.Debit, Amount: decimal.NewFromInt(1)}},
		Skipped: 2,
		Errors: []orchestrator.ItemError{
			{SourceID: "m3", Reason: orchestrator.ReasonUnparseable, Err: errors.New("no template matched")},
		},
	}

	rec := f.do(t, http.MethodPost, "/api/ingest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, namedReader("default"), f.ing.reader)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["saved"])
	assert.EqualValues(t, 2, body["skipped"])
	require.Len(t, body["errors"], 1)
	assert.Equal(t, "unparseable", body["errors"].([]any)[0].(map[string]any)["reason"])

	rec = f.do(t, http.MethodPost, "/api/ingest", "", "Authorization", "Bearer ya29.abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, namedReader("ya29.abc"), f.ing.reader)

	rec = f.do(t, http.MethodPost, "/api/ingest", "", "Authorization", "Bearer bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.ing.err = errors.New("gmail down")
	rec = f.do(t, http.MethodPost, "/api/ingest", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIngestEmpty(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/ingest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"saved":0,"skipped":0,"errors":[],"transactions":[]}`, rec.Body.String())
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "bearer  abc ", token: "abc", ok: true},
		{header: "Basic abc"},
		{header: "Bearer "},
		{header: ""},
	}

	for _, tc := range tests {
		token, ok := bearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	srv, err := New(Config{UserID: "u1", Addr: "127.0.0.1:0"}, Deps{Store: memory.New()}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
