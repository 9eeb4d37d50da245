package usage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/de-tools/usage-meter/pkg/adapters"
	"github.com/de-tools/usage-meter/pkg/models/api"
	"github.com/de-tools/usage-meter/pkg/services/reporting"
	usagestore "github.com/de-tools/usage-meter/pkg/store/postgres/usage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const dateFormat = "2006-01-02"

type Handler struct {
	explorer reporting.Explorer
}

func NewHandler(explorer reporting.Explorer) *Handler {
	return &Handler{explorer: explorer}
}

// GetDailyUsage serves GET /users/{user}/usage/{date}.
func (h *Handler) GetDailyUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	userID := chi.URLParam(r, "user")

	date, err := time.Parse(dateFormat, chi.URLParam(r, "date"))
	if err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	usage, err := h.explorer.GetDailyUsage(ctx, userID, date)
	if errors.Is(err, usagestore.ErrNotFound) {
		http.Error(w, "no usage snapshot for that date", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("failed to get daily usage")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(ctx, w, adapters.MapUsageDomainToApi(*usage))
}

// ListUsage serves GET /users/{user}/usage?from=YYYY-MM-DD&to=YYYY-MM-DD.
// The range defaults to the trailing 30 days.
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	userID := chi.URLParam(r, "user")

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(dateFormat, raw); err != nil {
			http.Error(w, "invalid from date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(dateFormat, raw); err != nil {
			http.Error(w, "invalid to date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	usages, err := h.explorer.ListUsage(ctx, userID, from, to)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("failed to list usage")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	response := make([]api.ConcurrentUsage, 0, len(usages))
	for _, u := range usages {
		response = append(response, adapters.MapUsageDomainToApi(u))
	}
	writeJSON(ctx, w, response)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode response")
	}
}
