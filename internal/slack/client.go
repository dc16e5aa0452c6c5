// Package slack はSlack Web APIのクライアントを提供する。
// ユーザー情報の取得、メッセージの投稿・更新、OAuthインストールの
// コード交換を含む。
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/rollcall/internal/roster"
)

// defaultBaseURL はSlack Web APIのベースURL。
const defaultBaseURL = "https://slack.com/api"

// Client はSlack Web APIのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string // テスト用にエンドポイントを差し替え可能
	botToken    string
	maxRespSize int64
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはsecurity.URLGuardServiceで生成した堅牢化クライアントを渡すことを想定している。
func NewClient(httpClient *http.Client, logger *slog.Logger, botToken string, maxRespSize int64) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     defaultBaseURL,
		botToken:    botToken,
		maxRespSize: maxRespSize,
	}
}

// SetBaseURL はAPIのベースURLを差し替える。テストおよびプロキシ環境用。
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Profile はusers.profile.getのレスポンスから必要な項目を抜き出したもの。
type Profile struct {
	DisplayName string
	Image24     string
}

// AccountInfo はusers.infoのレスポンスから必要な項目を抜き出したもの。
type AccountInfo struct {
	TzOffsetSeconds int
	HasTzOffset     bool
}

// OAuthAccess はoauth.v2.accessのレスポンスから必要な項目を抜き出したもの。
type OAuthAccess struct {
	AccessToken string
	BotUserID   string
	TeamID      string
	TeamName    string
}

// Attachment はメッセージに添付するボタン付きアタッチメントを表す。
type Attachment struct {
	Text       string             `json:"text"`
	Fallback   string             `json:"fallback"`
	CallbackID string             `json:"callback_id"`
	Color      string             `json:"color"`
	Actions    []AttachmentAction `json:"actions"`
}

// AttachmentAction はアタッチメント内のボタンを表す。
type AttachmentAction struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// apiEnvelope は全Slack APIレスポンス共通のエンベロープ。
type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// FetchProfile はユーザーのプロフィール（表示名・アバター）を取得する。
func (c *Client) FetchProfile(ctx context.Context, userID string) (*Profile, error) {
	body, err := c.get(ctx, "users.profile.get", url.Values{"user": {userID}})
	if err != nil {
		return nil, err
	}

	var resp struct {
		apiEnvelope
		Profile struct {
			DisplayName string `json:"display_name"`
			Image24     string `json:"image_24"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse users.profile.get response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("users.profile.get returned error: %s", resp.Error)
	}

	return &Profile{
		DisplayName: resp.Profile.DisplayName,
		Image24:     resp.Profile.Image24,
	}, nil
}

// FetchAccountInfo はユーザーのアカウント情報（タイムゾーンオフセット）を取得する。
func (c *Client) FetchAccountInfo(ctx context.Context, userID string) (*AccountInfo, error) {
	body, err := c.get(ctx, "users.info", url.Values{"user": {userID}})
	if err != nil {
		return nil, err
	}

	var resp struct {
		apiEnvelope
		User struct {
			TzOffset *int `json:"tz_offset"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse users.info response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("users.info returned error: %s", resp.Error)
	}

	info := &AccountInfo{}
	if resp.User.TzOffset != nil {
		info.TzOffsetSeconds = *resp.User.TzOffset
		info.HasTzOffset = true
	}
	return info, nil
}

// PostMessage はチャンネルに新しいロスターメッセージを投稿し、メッセージ参照（ts）を返す。
func (c *Client) PostMessage(ctx context.Context, channelID string, blocks []roster.Block, attachments []Attachment) (string, error) {
	payload := map[string]any{
		"channel":     channelID,
		"blocks":      blocks,
		"attachments": attachments,
	}

	body, err := c.post(ctx, "chat.postMessage", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		apiEnvelope
		TS string `json:"ts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse chat.postMessage response: %w", err)
	}
	if !resp.OK {
		return "", fmt.Errorf("chat.postMessage returned error: %s", resp.Error)
	}

	return resp.TS, nil
}

// FetchMessage は指定メッセージの現在のブロック内容を取得する。
// ボタンペイロードに載るスナップショットはクリック時点の内容で古くなりうるため、
// ロスターへの追記前はこのAPIで最新の内容を取り直す。
func (c *Client) FetchMessage(ctx context.Context, channelID, messageRef string) ([]roster.Block, error) {
	params := url.Values{
		"channel":   {channelID},
		"latest":    {messageRef},
		"inclusive": {"true"},
		"limit":     {"1"},
	}

	body, err := c.get(ctx, "conversations.history", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		apiEnvelope
		Messages []struct {
			TS     string         `json:"ts"`
			Blocks []roster.Block `json:"blocks"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse conversations.history response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("conversations.history returned error: %s", resp.Error)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].TS != messageRef {
		return nil, fmt.Errorf("conversations.history did not return message %s", messageRef)
	}

	return resp.Messages[0].Blocks, nil
}

// UpdateMessage は既存メッセージの内容を更新する。
func (c *Client) UpdateMessage(ctx context.Context, channelID, messageRef string, blocks []roster.Block, attachments []Attachment) error {
	payload := map[string]any{
		"channel":     channelID,
		"ts":          messageRef,
		"blocks":      blocks,
		"attachments": attachments,
	}

	body, err := c.post(ctx, "chat.update", payload)
	if err != nil {
		return err
	}

	var resp apiEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse chat.update response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("chat.update returned error: %s", resp.Error)
	}

	return nil
}

// PostEphemeral は指定ユーザーにのみ見える短い通知をチャンネルに投稿する。
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	payload := map[string]any{
		"channel": channelID,
		"user":    userID,
		"text":    text,
	}

	body, err := c.post(ctx, "chat.postEphemeral", payload)
	if err != nil {
		return err
	}

	var resp apiEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse chat.postEphemeral response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("chat.postEphemeral returned error: %s", resp.Error)
	}

	return nil
}

// ExchangeOAuthCode はOAuthインストールの認可コードをアクセストークンに交換する。
func (c *Client) ExchangeOAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*OAuthAccess, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth.v2.access", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth.v2.access request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		apiEnvelope
		AccessToken string `json:"access_token"`
		BotUserID   string `json:"bot_user_id"`
		Team        struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"team"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse oauth.v2.access response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("oauth.v2.access returned error: %s", resp.Error)
	}

	return &OAuthAccess{
		AccessToken: resp.AccessToken,
		BotUserID:   resp.BotUserID,
		TeamID:      resp.Team.ID,
		TeamName:    resp.Team.Name,
	}, nil
}

// get はGET系のAPIメソッドを呼び出し、レスポンスボディを返す。
func (c *Client) get(ctx context.Context, method string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + "/" + method
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}

	return c.do(req)
}

// post はJSONボディのPOST系APIメソッドを呼び出し、レスポンスボディを返す。
func (c *Client) post(ctx context.Context, method string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+method, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return c.do(req)
}

// do はリクエストを実行し、サイズ上限付きでレスポンスボディを読み取る。
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.botToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.botToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("slack api request failed",
			slog.String("url", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("slack api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("slack api returned error status",
			slog.String("url", req.URL.Path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("slack api returned status %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if c.maxRespSize > 0 {
		reader = io.LimitReader(resp.Body, c.maxRespSize)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read slack api response: %w", err)
	}

	return body, nil
}
