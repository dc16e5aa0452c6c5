package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/middleware"
	"github.com/hitoshi/rollcall/internal/ratelimit"
	"github.com/hitoshi/rollcall/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger    *slog.Logger
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer

	// Webhook
	PresenceService PresenceServiceInterface
	RateLimiter     *ratelimit.Limiter
	SignatureConfig middleware.SignatureConfig

	// インストール
	OAuthExchanger   OAuthExchanger
	InstallationRepo repository.InstallationRepository
	InstallConfig    InstallHandlerConfig

	// 一覧
	AttendanceLister AttendanceListerInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware →（Webhookのみ）SignatureMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))

	webhookHandler := NewWebhookHandler(deps.PresenceService, deps.RateLimiter)
	installHandler := NewInstallHandler(deps.OAuthExchanger, deps.InstallationRepo, deps.InstallConfig)
	attendanceHandler := NewAttendanceHandler(deps.AttendanceLister)

	// --- 署名検証付きWebhookルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSignatureMiddleware(deps.SignatureConfig))
		r.Post("/slack/commands", webhookHandler.HandleCommand)
		r.Post("/slack/interactions", webhookHandler.HandleInteraction)
	})

	// --- その他のルート ---
	r.Get("/slack/auth", installHandler.Install)
	r.Get("/api/attendance/today", attendanceHandler.ListToday)

	r.Get("/health", handleHealth)
	r.Get("/", handleHome)
	r.Head("/uptime", handleUptime)

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// handleHealth はヘルスチェック応答を返す。healthcheckサブコマンドが叩く。
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleHome はルートパスへの応答を返す。
func handleHome(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Home!"))
}

// handleUptime は死活監視サービス向けのHEAD応答を返す。
func handleUptime(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
