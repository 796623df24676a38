package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gearshare/internal/observability/metrics"
	settlement "gearshare/internal/settlement/domain"
)

// StatementBuilder builds the payout statement of a month.
type StatementBuilder interface {
	Build(ctx context.Context, month time.Time) (*settlement.PayoutStatement, error)
}

// StatementHandler serves payout statements as JSON, XLSX or PDF.
type StatementHandler struct {
	builder StatementBuilder
	logger  *zap.Logger
}

// NewStatementHandler constructs a handler.
func NewStatementHandler(builder StatementBuilder, logger *zap.Logger) (*StatementHandler, error) {
	if builder == nil {
		return nil, errors.New("statement handler: nil builder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementHandler{builder: builder, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/admin/statements/payouts?month=YYYY-MM&format=json|xlsx|pdf.
func (h *StatementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	month, err := settlement.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "xlsx" && format != "pdf" {
		http.Error(w, "format must be json, xlsx or pdf", http.StatusBadRequest)
		return
	}

	start := time.Now()
	stmt, err := h.builder.Build(r.Context(), month)
	if err != nil {
		metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(start))
		h.logger.Error("build payout statement", zap.String("month", month.Format("2006-01")), zap.Error(err))
		http.Error(w, "build statement error", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("payouts-%s.%s", month.Format("2006-01"), format)
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stmt)
	case "xlsx":
		data, err := BuildStatementXLSX(stmt)
		if err != nil {
			metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(start))
			http.Error(w, "export xlsx error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		_, _ = w.Write(data)
	case "pdf":
		data, err := BuildStatementPDF(stmt)
		if err != nil {
			metrics.ObserveStatementExport(format, metrics.ResultError, time.Since(start))
			http.Error(w, "export pdf error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		_, _ = w.Write(data)
	}
	metrics.ObserveStatementExport(format, metrics.ResultSuccess, time.Since(start))
}
