package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
	"github.com/hitoshi/rollcall/internal/slack"
)

// OAuthExchanger はOAuthコード交換のインターフェース。slack.Clientが実装する。
type OAuthExchanger interface {
	ExchangeOAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*slack.OAuthAccess, error)
}

// InstallHandlerConfig はインストールハンドラーの設定。
type InstallHandlerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// InstallHandler はワークスペースへのアプリインストールのHTTPハンドラー。
type InstallHandler struct {
	exchanger OAuthExchanger
	repo      repository.InstallationRepository
	config    InstallHandlerConfig
	now       func() time.Time
}

// NewInstallHandler はInstallHandlerを生成する。
func NewInstallHandler(exchanger OAuthExchanger, repo repository.InstallationRepository, config InstallHandlerConfig) *InstallHandler {
	return &InstallHandler{
		exchanger: exchanger,
		repo:      repo,
		config:    config,
		now:       time.Now,
	}
}

// Install はOAuthインストールのコールバックを処理する。
// GET /slack/auth?code=xxx
// 認可コードをアクセストークンに交換し、ワークスペース情報を保存する。
// 同一ワークスペースへの再インストールは既存情報を上書きする。
func (h *InstallHandler) Install(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}

	access, err := h.exchanger.ExchangeOAuthCode(r.Context(),
		h.config.ClientID, h.config.ClientSecret, code, h.config.RedirectURL)
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		http.Error(w, "Error during installation", http.StatusInternalServerError)
		return
	}

	inst := &model.Installation{
		ID:          uuid.NewString(),
		TeamID:      access.TeamID,
		TeamName:    access.TeamName,
		AccessToken: access.AccessToken,
		BotUserID:   access.BotUserID,
		InstalledAt: h.now().UTC(),
	}

	if err := h.repo.Upsert(r.Context(), inst); err != nil {
		slog.Error("failed to save installation",
			slog.String("team_id", access.TeamID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Error during installation", http.StatusInternalServerError)
		return
	}

	slog.Info("app installed",
		slog.String("team_id", access.TeamID),
		slog.String("team_name", access.TeamName),
	)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Your app has been installed!"))
}
