package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/rollcall/internal/model"
)

const (
	// signatureHeaderName はリクエスト署名を運ぶヘッダー名。
	signatureHeaderName = "X-Slack-Signature"

	// timestampHeaderName は署名タイムスタンプを運ぶヘッダー名。
	timestampHeaderName = "X-Slack-Request-Timestamp"

	// signatureVersion は署名ベース文字列のバージョンプレフィックス。
	signatureVersion = "v0"

	// maxSignedBodySize は署名検証で読み取るボディの上限サイズ。
	maxSignedBodySize = 1 << 20
)

// SignatureConfig は署名検証ミドルウェアの設定。
type SignatureConfig struct {
	SigningSecret string
	MaxAge        time.Duration // タイムスタンプの許容される古さ。リプレイ対策
	Now           func() time.Time
}

// NewSignatureMiddleware はWebhookリクエストの署名検証ミドルウェアを返す。
// 署名は v0=hex(hmac_sha256(secret, "v0:{timestamp}:{body}")) 形式。
// タイムスタンプがMaxAgeより古い、または未来すぎる場合は拒否する。
// 検証後はボディを復元し、後続のハンドラーが通常どおり読めるようにする。
func NewSignatureMiddleware(config SignatureConfig) func(next http.Handler) http.Handler {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signature := r.Header.Get(signatureHeaderName)
			timestamp := r.Header.Get(timestampHeaderName)
			if signature == "" || timestamp == "" {
				slog.Warn("signature validation failed: missing headers",
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ts, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				slog.Warn("signature validation failed: malformed timestamp",
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			age := now().Sub(time.Unix(ts, 0))
			if age > config.MaxAge || age < -config.MaxAge {
				slog.Warn("signature validation failed: stale timestamp",
					slog.String("path", r.URL.Path),
					slog.Int64("timestamp", ts),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodySize))
			if err != nil {
				slog.Error("failed to read request body for signature validation",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			r.Body.Close()

			expected := computeSignature(config.SigningSecret, timestamp, body)
			if !hmac.Equal([]byte(expected), []byte(signature)) {
				slog.Warn("signature validation failed: signature mismatch",
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 後続ハンドラーのためにボディを復元
			r.Body = io.NopCloser(bytes.NewReader(body))

			next.ServeHTTP(w, r)
		})
	}
}

// computeSignature は署名ベース文字列 "v0:{timestamp}:{body}" のHMAC-SHA256署名を計算する。
func computeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", signatureVersion, timestamp)
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
