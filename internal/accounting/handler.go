package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires finance ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	periods   *PeriodService
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, periods *PeriodService) *Handler {
	return &Handler{logger: logger, service: service, periods: periods, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Post("/accounts", h.createAccount)
	r.Put("/account-mappings", h.setMapping)

	r.Get("/periods", h.listPeriods)
	r.Post("/periods", h.createPeriod)
	r.Post("/periods/{id}/{action}", h.transitionPeriod)
	r.Get("/periods/{id}/trial-balance", h.trialBalance)

	r.Get("/journals", h.listJournals)
	r.Post("/journals", h.postJournal)
	r.Post("/journals/drafts", h.createDraft)
	r.Get("/journals/{id}", h.getJournal)
	r.Post("/journals/{id}/lines", h.appendLines)
	r.Post("/journals/{id}/post", h.postDraft)
	r.Post("/journals/{id}/reverse", h.reverseJournal)
}

type lineRequest struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo"`
}

type journalRequest struct {
	PeriodID     int64         `json:"period_id" validate:"required,gt=0"`
	Date         string        `json:"date" validate:"required,datetime=2006-01-02"`
	SourceModule string        `json:"source_module"`
	SourceRef    string        `json:"source_ref"`
	Memo         string        `json:"memo" validate:"max=500"`
	Lines        []lineRequest `json:"lines" validate:"dive"`
}

type linesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type reverseRequest struct {
	Memo           string `json:"memo" validate:"max=500"`
	TargetPeriodID int64  `json:"target_period_id"`
	TargetDate     string `json:"target_date" validate:"omitempty,datetime=2006-01-02"`
}

type accountRequest struct {
	Code          string `json:"code" validate:"required,max=32"`
	Name          string `json:"name" validate:"required,max=200"`
	Type          string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	NormalBalance string `json:"normal_balance" validate:"omitempty,oneof=DEBIT CREDIT"`
	ParentID      *int64 `json:"parent_id"`
}

type mappingRequest struct {
	Module    string `json:"module" validate:"required"`
	Key       string `json:"key" validate:"required"`
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
}

type periodRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func toLineInputs(lines []lineRequest) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, PostingLineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	return out
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	ctx := r.Context()
	entry, err := h.service.PostJournal(ctx, PostingInput{
		TenantID:     shared.TenantFromContext(ctx),
		PeriodID:     req.PeriodID,
		Date:         date,
		SourceModule: req.SourceModule,
		SourceRef:    req.SourceRef,
		Memo:         req.Memo,
		PostedBy:     shared.ActorFromContext(ctx),
		Lines:        toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("journal posted", slog.Int64("tenant_id", entry.TenantID), slog.String("number", entry.Number))
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	ctx := r.Context()
	entry, err := h.service.CreateDraft(ctx, DraftInput{
		TenantID:     shared.TenantFromContext(ctx),
		PeriodID:     req.PeriodID,
		Date:         date,
		SourceModule: req.SourceModule,
		SourceRef:    req.SourceRef,
		Memo:         req.Memo,
		CreatedBy:    shared.ActorFromContext(ctx),
		Lines:        toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) appendLines(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req linesRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	entry, err := h.service.AppendLines(r.Context(), shared.TenantFromContext(r.Context()), id, toLineInputs(req.Lines))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) postDraft(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	entry, err := h.service.PostEntry(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) reverseJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req reverseRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	input := ReverseInput{
		TenantID:       shared.TenantFromContext(ctx),
		EntryID:        id,
		ActorID:        shared.ActorFromContext(ctx),
		Memo:           req.Memo,
		TargetPeriodID: req.TargetPeriodID,
	}
	if req.TargetDate != "" {
		date, _ := time.Parse(time.DateOnly, req.TargetDate)
		input.TargetDate = &date
	}
	entry, err := h.service.ReverseEntry(ctx, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	entry, err := h.service.GetEntry(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := EntryFilter{TenantID: shared.TenantFromContext(r.Context()), Status: JournalStatus(q.Get("status"))}
	if v := q.Get("period_id"); v != "" {
		filter.PeriodID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context(), shared.TenantFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), AccountInput{
		TenantID:      shared.TenantFromContext(r.Context()),
		Code:          req.Code,
		Name:          req.Name,
		Type:          AccountType(req.Type),
		NormalBalance: NormalBalance(req.NormalBalance),
		ParentID:      req.ParentID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) setMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	err := h.service.SetAccountMapping(r.Context(), AccountMapping{
		TenantID:  shared.TenantFromContext(r.Context()),
		Module:    req.Module,
		Key:       req.Key,
		AccountID: req.AccountID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.periods.ListPeriods(r.Context(), shared.TenantFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		h.respondError(w, err)
		return
	}
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)
	period, err := h.periods.CreatePeriod(r.Context(), PeriodInput{
		TenantID:  shared.TenantFromContext(r.Context()),
		Code:      req.Code,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) transitionPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	ctx := r.Context()
	tenantID, actorID := shared.TenantFromContext(ctx), shared.ActorFromContext(ctx)
	var period Period
	switch chi.URLParam(r, "action") {
	case "open":
		period, err = h.periods.OpenPeriod(ctx, tenantID, id, actorID)
	case "close":
		period, err = h.periods.ClosePeriod(ctx, tenantID, id, actorID)
	case "reopen":
		period, err = h.periods.ReopenPeriod(ctx, tenantID, id, actorID)
	case "lock":
		period, err = h.periods.LockPeriod(ctx, tenantID, id, actorID)
	default:
		httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown period action")
		return
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("period transitioned", slog.Int64("period_id", id), slog.String("status", string(period.Status)))
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	classified := classifyError(err)
	if !errors.Is(classified, httpx.ErrValidation) && !errors.Is(classified, httpx.ErrNotFound) &&
		!errors.Is(classified, httpx.ErrConflict) && !errors.Is(classified, httpx.ErrUnprocessable) {
		h.logger.Error("ledger request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, httpx.ErrValidation):
		return err
	case errors.Is(err, ErrJournalNotFound), errors.Is(err, ErrPeriodNotFound),
		errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrMappingNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrPeriodClosed),
		errors.Is(err, ErrSourceAlreadyLinked), errors.Is(err, ErrPeriodOverlap),
		errors.Is(err, ErrAccountCodeExists), errors.Is(err, shared.ErrInvalidPeriodTransition):
		return httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, ErrUnbalanced), errors.Is(err, ErrAccountNotPostable), errors.Is(err, ErrDateOutOfRange):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	case errors.Is(err, ErrTooFewLines), errors.Is(err, ErrInvalidLine), errors.Is(err, ErrInvalidAccount),
		errors.Is(err, ErrInvalidPeriodWindow), errors.Is(err, ErrInvalidInput), errors.Is(err, shared.ErrTenantRequired):
		return httpx.Classify(httpx.ErrValidation, err)
	}
	return err
}
