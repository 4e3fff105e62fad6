package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockarena/internal/auth"
	"stockarena/internal/config"
	"stockarena/internal/contest"
	"stockarena/internal/lifecycle"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// Operator identifies the authenticated caller of an admin request.
type Operator struct {
	RequestID string
}

type Server struct {
	cfg   config.APIConfig
	log   *slog.Logger
	auth  *auth.AdminVerifier
	sched *lifecycle.Scheduler
	mux   *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, verifier *auth.AdminVerifier, sched *lifecycle.Scheduler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		auth:  verifier,
		sched: sched,
		mux:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/contests", s.handleContestList)
		r.Post("/contests", s.handleContestCreate)
		r.Get("/contests/{id}", s.handleContestGet)
		r.Patch("/contests/{id}", s.handleContestUpdate)
		r.Delete("/contests/{id}", s.handleContestDelete)

		r.Post("/contests/{id}/start", s.handleContestStart)
		r.Post("/contests/{id}/end", s.handleContestEnd)
		r.Post("/contests/{id}/calculate-results", s.handleCalculateResults)
		r.Post("/contests/{id}/distribute-prizes", s.handleDistributePrizes)
		r.Patch("/contests/{id}/status", s.handleSetStatus)

		r.Get("/contests/{id}/entries", s.handleEntryList)
		r.Post("/contests/{id}/entries", s.handleJoin)
		r.Get("/contests/{id}/leaderboard", s.handleLeaderboard)
		r.Post("/contests/{id}/schedule", s.handleSchedule)
		r.Delete("/contests/{id}/schedule", s.handleUnschedule)

		r.Get("/entries/{id}/performance", s.handleEntryPerformance)

		r.Get("/scheduler/timers", s.handleTimers)
		r.Post("/scheduler/scan", s.handleScan)

		r.Get("/stocks", s.handleStockList)
		r.Put("/stocks/{symbol}", s.handleStockUpsert)

		r.Put("/users/{id}", s.handleUserUpsert)
		r.Get("/users/{id}", s.handleUserGet)
		r.Post("/users/{id}/coins", s.handleGrantCoins)
		r.Get("/users/{id}/transactions", s.handleUserTransactions)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if err := s.auth.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), operatorContextKey, Operator{
			RequestID: middleware.GetReqID(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func operatorFromContext(ctx context.Context) Operator {
	op, _ := ctx.Value(operatorContextKey).(Operator)
	return op
}

type contestInput struct {
	Name            string          `json:"name"`
	EntryFee        decimal.Decimal `json:"entry_fee"`
	PrizePool       decimal.Decimal `json:"prize_pool"`
	MaxParticipants int             `json:"max_participants"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Featured        bool            `json:"featured"`
}

func (s *Server) handleContestList(w http.ResponseWriter, r *http.Request) {
	var filter contest.ContestFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := contest.ParseStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	out, err := s.sched.ListContests(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contests": out})
}

func (s *Server) handleContestCreate(w http.ResponseWriter, r *http.Request) {
	var in contestInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.sched.CreateContest(r.Context(), contest.Contest{
		Name:            in.Name,
		EntryFee:        in.EntryFee,
		PrizePool:       in.PrizePool,
		MaxParticipants: in.MaxParticipants,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		Featured:        in.Featured,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.audit(r, "contest created", c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleContestGet(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	c, err := s.sched.GetContest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleContestUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	var patch contest.ContestPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.sched.UpdateContest(r.Context(), id, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.audit(r, "contest updated", id)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleContestDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	if err := s.sched.DeleteContest(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.audit(r, "contest deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContestStart(w http.ResponseWriter, r *http.Request) {
	s.contestAction(w, r, "contest started manually", s.sched.StartContestManually)
}

func (s *Server) handleContestEnd(w http.ResponseWriter, r *http.Request) {
	s.contestAction(w, r, "contest ended manually", s.sched.EndContestManually)
}

func (s *Server) handleCalculateResults(w http.ResponseWriter, r *http.Request) {
	s.contestAction(w, r, "results calculated manually", s.sched.CalculateResultsManually)
}

func (s *Server) contestAction(w http.ResponseWriter, r *http.Request, msg string, fn func(context.Context, int64) (contest.Contest, error)) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	c, err := fn(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.audit(r, msg, id)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDistributePrizes(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	payouts, err := s.sched.DistributePrizes(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.audit(r, "prizes distributed", id)
	writeJSON(w, http.StatusOK, map[string]any{"contest_id": id, "payouts": payouts})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	var in struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := contest.ParseStatus(in.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.sched.SetStatus(r.Context(), id, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.audit(r, "contest status set", id)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEntryList(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	out, err := s.sched.ListEntries(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	var in struct {
		UserID      string                 `json:"user_id"`
		Allocations []lifecycle.Allocation `json:"allocations"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.sched.JoinContest(r.Context(), lifecycle.JoinInput{
		ContestID:   id,
		UserID:      in.UserID,
		Allocations: in.Allocations,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	lb, err := s.sched.Leaderboard(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	if _, err := s.sched.Reschedule(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	timers := make([]lifecycle.ScheduledTimer, 0, 2)
	for _, t := range s.sched.ScheduledContests() {
		if t.ContestID == id {
			timers = append(timers, t)
		}
	}
	s.audit(r, "contest timers registered", id)
	writeJSON(w, http.StatusOK, map[string]any{"timers": timers})
}

func (s *Server) handleUnschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := contestID(w, r)
	if !ok {
		return
	}
	n := s.sched.CancelScheduledContest(id)
	s.audit(r, "contest timers cancelled", id)
	writeJSON(w, http.StatusOK, map[string]any{"contest_id": id, "cancelled": n})
}

func (s *Server) handleEntryPerformance(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	out, err := s.sched.EntryPerformance(r.Context(), entryID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": entryID, "performance": out})
}

func (s *Server) handleTimers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"timers": s.sched.ScheduledContests()})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Scan(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStockList(w http.ResponseWriter, r *http.Request) {
	out, err := s.sched.ListStocks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": out})
}

func (s *Server) handleStockUpsert(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name         string          `json:"name"`
		CurrentPrice decimal.Decimal `json:"current_price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.sched.UpsertStock(r.Context(), contest.Stock{
		Symbol:       chi.URLParam(r, "symbol"),
		Name:         in.Name,
		CurrentPrice: in.CurrentPrice,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUserUpsert(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.sched.UpsertUser(r.Context(), contest.User{ID: chi.URLParam(r, "id"), Username: in.Username})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUserGet(w http.ResponseWriter, r *http.Request) {
	u, err := s.sched.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleGrantCoins(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type        string          `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := chi.URLParam(r, "id")
	tx, err := s.sched.GrantCoins(r.Context(), userID, contest.TxType(strings.TrimSpace(in.Type)), in.Amount, in.Description, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("coins granted", "user_id", userID, "amount", in.Amount.String(), "request_id", operatorFromContext(r.Context()).RequestID)
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	userID := chi.URLParam(r, "id")
	out, err := s.sched.CoinTransactions(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "transactions": out})
}

func (s *Server) audit(r *http.Request, msg string, contestID int64) {
	s.log.Info(msg, "contest_id", contestID, "request_id", operatorFromContext(r.Context()).RequestID)
}

func contestID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid contest id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contest.ErrContestNotFound), errors.Is(err, contest.ErrEntryNotFound),
		errors.Is(err, contest.ErrUserNotFound), errors.Is(err, contest.ErrStockNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, contest.ErrInvalidSymbol), errors.Is(err, contest.ErrInvalidStatus),
		errors.Is(err, contest.ErrInvalidUser), errors.Is(err, contest.ErrInvalidPrice),
		errors.Is(err, contest.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, contest.ErrInvalidContest), errors.Is(err, contest.ErrInvalidAllocation),
		errors.Is(err, contest.ErrInsufficientCoins), errors.Is(err, contest.ErrUnresolvedValuation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, contest.ErrInvalidState), errors.Is(err, contest.ErrStatusConflict),
		errors.Is(err, contest.ErrPrizesAlreadyDistributed), errors.Is(err, contest.ErrDuplicateTransaction),
		errors.Is(err, contest.ErrAlreadyJoined), errors.Is(err, contest.ErrContestFull),
		errors.Is(err, contest.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
