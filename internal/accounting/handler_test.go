package accounting

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func newTestRouter(t *testing.T, f ledgerFixture) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, f.svc, NewPeriodService(f.repo, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithTenant(req.Context(), tenantA)
			ctx = shared.ContextWithActor(ctx, 3)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	handler.MountRoutes(r)
	return r
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func journalBody(periodID, debitAccount, creditAccount int64, debit, credit string) string {
	payload := map[string]any{
		"period_id": periodID,
		"date":      "2025-01-15",
		"memo":      "http",
		"lines": []map[string]any{
			{"account_id": debitAccount, "debit": debit},
			{"account_id": creditAccount, "credit": credit},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestHandlerPostJournalStatuses(t *testing.T) {
	f := newLedgerFixture(t, PeriodStatusOpen)
	router := newTestRouter(t, f)

	rec := doRequest(router, http.MethodPost, "/journals", journalBody(f.period.ID, f.cash.ID, f.revenue.ID, "12.50", "12.50"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(router, http.MethodPost, "/journals", journalBody(f.period.ID, f.cash.ID, f.revenue.ID, "12.50", "12.00"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Detail, "debit 12.50, credit 12.00")

	rec = doRequest(router, http.MethodPost, "/journals", journalBody(f.period.ID, f.parent.ID, f.revenue.ID, "1", "1"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(router, http.MethodPost, "/journals", journalBody(9999, f.cash.ID, f.revenue.ID, "1", "1"))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(router, http.MethodPost, "/journals", `{"period_id": 1, "date": "15/01/2025"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodPost, "/journals", `{"unexpected": true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, 1, f.repo.entryCount())
}

func TestHandlerClosedPeriodIsConflict(t *testing.T) {
	f := newLedgerFixture(t, PeriodStatusOpen)
	router := newTestRouter(t, f)
	path := "/periods/" + jsonID(f.period.ID)

	rec := doRequest(router, http.MethodPost, path+"/close", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(router, http.MethodPost, "/journals", journalBody(f.period.ID, f.cash.ID, f.revenue.ID, "5", "5"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(router, http.MethodPost, path+"/open", "")
	require.Equal(t, http.StatusConflict, rec.Code, "open only applies to draft periods")

	rec = doRequest(router, http.MethodPost, path+"/archive", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(router, http.MethodGet, path+"/trial-balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerDraftAndReverseFlow(t *testing.T) {
	f := newLedgerFixture(t, PeriodStatusOpen)
	router := newTestRouter(t, f)

	rec := doRequest(router, http.MethodPost, "/journals/drafts", journalBody(f.period.ID, f.cash.ID, f.revenue.ID, "9", "9"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var draft JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))

	path := "/journals/" + jsonID(draft.ID)
	rec = doRequest(router, http.MethodPost, path+"/post", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(router, http.MethodPost, path+"/lines", `{"lines":[{"account_id":1,"debit":"1"}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(router, http.MethodPost, path+"/reverse", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(router, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	require.Equal(t, JournalStatusReversed, stored.Status)

	rec = doRequest(router, http.MethodGet, "/journals/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func jsonID(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
