// Package identity はチャットプラットフォーム上のユーザー情報の解決を提供する。
package identity

import (
	"context"
	"log/slog"
	"unicode"

	"github.com/hitoshi/rollcall/internal/localtime"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/security"
	"github.com/hitoshi/rollcall/internal/slack"
)

// UserFetcher はユーザー情報取得のインターフェース。slack.Clientが実装する。
type UserFetcher interface {
	// FetchProfile はユーザーのプロフィール（表示名・アバター）を取得する。
	FetchProfile(ctx context.Context, userID string) (*slack.Profile, error)
	// FetchAccountInfo はユーザーのアカウント情報（タイムゾーンオフセット）を取得する。
	FetchAccountInfo(ctx context.Context, userID string) (*slack.AccountInfo, error)
}

// Resolver はユーザーIDから正規化済みのUserIdentityを解決する。
// 表示名やアバターは変わりうるため、キャッシュせず毎回解決する。
type Resolver struct {
	fetcher          UserFetcher
	sanitizer        security.NameSanitizerService
	urlGuard         security.URLGuardService
	formatter        *localtime.Formatter
	defaultAvatarURL string
}

// NewResolver はResolverの新しいインスタンスを生成する。
func NewResolver(
	fetcher UserFetcher,
	sanitizer security.NameSanitizerService,
	urlGuard security.URLGuardService,
	formatter *localtime.Formatter,
	defaultAvatarURL string,
) *Resolver {
	return &Resolver{
		fetcher:          fetcher,
		sanitizer:        sanitizer,
		urlGuard:         urlGuard,
		formatter:        formatter,
		defaultAvatarURL: defaultAvatarURL,
	}
}

// Resolve はユーザー情報を解決し、正規化済みのUserIdentityを返す。
// フォールバック: 表示名が空ならfallbackName、アバターが空または不正なら
// デフォルト画像、タイムゾーンが欠けていれば基準タイムゾーンの現在オフセット。
// 取得先に到達できない場合はLOOKUP_FAILEDを返す（無言のデフォルト識別は行わない）。
func (r *Resolver) Resolve(ctx context.Context, userID, fallbackName string) (*model.UserIdentity, error) {
	profile, err := r.fetcher.FetchProfile(ctx, userID)
	if err != nil {
		slog.Error("failed to fetch user profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewLookupFailedError()
	}

	info, err := r.fetcher.FetchAccountInfo(ctx, userID)
	if err != nil {
		slog.Error("failed to fetch account info",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewLookupFailedError()
	}

	name := profile.DisplayName
	if name == "" {
		name = fallbackName
	}
	name = r.sanitizer.Sanitize(name)
	if name == "" {
		name = r.sanitizer.Sanitize(fallbackName)
	}

	imageURL := profile.Image24
	if imageURL == "" {
		imageURL = r.defaultAvatarURL
	} else if err := r.urlGuard.ValidateImageURL(imageURL); err != nil {
		slog.Warn("avatar URL rejected, falling back to default",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		imageURL = r.defaultAvatarURL
	}

	tzOffset := r.formatter.CurrentOffsetSeconds()
	if info.HasTzOffset {
		tzOffset = info.TzOffsetSeconds
	}

	return &model.UserIdentity{
		ID:              userID,
		DisplayName:     capitalize(name),
		ImageURL:        imageURL,
		TzOffsetSeconds: tzOffset,
	}, nil
}

// capitalize は先頭の1文字を大文字化する。
func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
