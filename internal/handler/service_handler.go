package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// pingTimeout はreadyz・healthcheckでの接続確認のタイムアウト。
const pingTimeout = 2 * time.Second

// Pinger はストアへの接続確認を行う。*sql.DBとインメモリストアが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ServiceHandler は死活監視用のHTTPハンドラー。
type ServiceHandler struct {
	pinger    Pinger
	startedAt time.Time
	now       func() time.Time
}

// NewServiceHandler はServiceHandlerを生成する。startedAtは稼働時間の起点。
func NewServiceHandler(pinger Pinger, startedAt time.Time) *ServiceHandler {
	return &ServiceHandler{
		pinger:    pinger,
		startedAt: startedAt,
		now:       time.Now,
	}
}

type uptimeResponse struct {
	Seconds float64 `json:"seconds"`
	Hours   float64 `json:"hours"`
	Days    float64 `json:"days"`
	Weeks   float64 `json:"weeks"`
	Months  float64 `json:"months"`
}

type healthcheckResponse struct {
	DatabaseConnected bool           `json:"databaseConnected"`
	Timestamp         string         `json:"timestamp"`
	Uptime            uptimeResponse `json:"uptime"`
}

func (h *ServiceHandler) databaseConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := h.pinger.PingContext(ctx); err != nil {
		slog.Warn("database ping failed",
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func writePlainText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}

// Livez はプロセスが応答可能であることを返す。
// GET /service/livez
func (h *ServiceHandler) Livez(w http.ResponseWriter, r *http.Request) {
	writePlainText(w, http.StatusOK, "OK")
}

// Readyz はストアに接続できる場合のみ200を返す。
// GET /service/readyz
func (h *ServiceHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.databaseConnected(r.Context()) {
		writePlainText(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	writePlainText(w, http.StatusOK, "OK")
}

// Healthcheck は接続状態と稼働時間を返す。
// GET /service/healthcheck
func (h *ServiceHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	seconds := now.Sub(h.startedAt).Seconds()
	hours := seconds / 60 / 60
	days := hours / 24

	writeJSON(w, http.StatusOK, healthcheckResponse{
		DatabaseConnected: h.databaseConnected(r.Context()),
		Timestamp:         now.UTC().Format(time.RFC3339Nano),
		Uptime: uptimeResponse{
			Seconds: seconds,
			Hours:   hours,
			Days:    days,
			Weeks:   days / 7,
			Months:  days / 30,
		},
	})
}
