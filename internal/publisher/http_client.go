package publisher

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

	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/security"
)

// maxResponseBytes はゲートウェイ応答の読み取り上限。
const maxResponseBytes = 1 << 20

// HTTPClient は公開ゲートウェイのHTTP APIを呼び出すPublisher。
// メディアはURLで渡し、ゲートウェイ側で取得してアップロードする。
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
	token      string
	guard      security.MediaGuard
	logger     *slog.Logger
}

// compile-time interface check
var _ Publisher = (*HTTPClient)(nil)

// NewHTTPClient はHTTPClientの新しいインスタンスを生成する。
// タイムアウトは呼び出し側のcontextで制御する。
func NewHTTPClient(httpClient *http.Client, endpoint, token string, guard security.MediaGuard, logger *slog.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		guard:      guard,
		logger:     logger,
	}
}

type mediaResponse struct {
	ID string `json:"id"`
}

// PublishPhoto は画像1枚を公開する。
func (c *HTTPClient) PublishPhoto(ctx context.Context, imageRef, caption string) (string, error) {
	if err := c.guard.ValidateRef(imageRef); err != nil {
		return "", model.NewPublishFailedError(fmt.Sprintf("画像URLが不正です: %v", err))
	}
	return c.publish(ctx, "/photos", map[string]any{
		"image_url": imageRef,
		"caption":   caption,
	})
}

// PublishImageSet は2〜10枚の画像をカルーセルとして公開する。
func (c *HTTPClient) PublishImageSet(ctx context.Context, imageRefs []string, caption string) (string, error) {
	if len(imageRefs) < model.ImageSetMinImages || len(imageRefs) > model.ImageSetMaxImages {
		return "", model.NewPublishFailedError(fmt.Sprintf("カルーセルの画像は%d〜%d枚です: %d枚", model.ImageSetMinImages, model.ImageSetMaxImages, len(imageRefs)))
	}
	if err := security.ValidateRefs(c.guard, imageRefs); err != nil {
		return "", model.NewPublishFailedError(fmt.Sprintf("画像URLが不正です: %v", err))
	}
	return c.publish(ctx, "/albums", map[string]any{
		"image_urls": imageRefs,
		"caption":    caption,
	})
}

// PublishVideo は動画をリールとして公開する。
func (c *HTTPClient) PublishVideo(ctx context.Context, videoRef, caption string) (string, error) {
	if err := c.guard.ValidateRef(videoRef); err != nil {
		return "", model.NewPublishFailedError(fmt.Sprintf("動画URLが不正です: %v", err))
	}
	return c.publish(ctx, "/reels", map[string]any{
		"video_url": videoRef,
		"caption":   caption,
	})
}

// PublishStory はストーリーのペイロードを公開する。
func (c *HTTPClient) PublishStory(ctx context.Context, storyType string, payload map[string]any) (string, error) {
	return c.publish(ctx, "/stories", map[string]any{
		"story_type": storyType,
		"payload":    payload,
	})
}

// AttachSupplementaryText は公開済み投稿にコメントを付ける。
func (c *HTTPClient) AttachSupplementaryText(ctx context.Context, platformID, text string) error {
	if platformID == "" || text == "" {
		return nil
	}
	_, err := c.call(ctx, "/media/"+url.PathEscape(platformID)+"/comments", map[string]any{
		"message": text,
	})
	return err
}

// publish は公開APIを呼び出し、応答のIDを返す。IDが空の応答はエラーとする。
func (c *HTTPClient) publish(ctx context.Context, path string, body map[string]any) (string, error) {
	respBody, err := c.call(ctx, path, body)
	if err != nil {
		return "", err
	}

	var res mediaResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return "", fmt.Errorf("公開APIのレスポンスのパースに失敗しました: %w", err)
	}
	if res.ID == "" {
		return "", model.NewPublishFailedError("公開APIがIDを返しませんでした")
	}
	return res.ID, nil
}

// call はJSONをPOSTし、2xxの場合にレスポンスボディを返す。
func (c *HTTPClient) call(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "postplan/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("公開APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("公開APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("公開APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewPublishFailedError(fmt.Sprintf("公開APIがステータス %d を返しました: %s", resp.StatusCode, snippet(respBody)))
	}
	return respBody, nil
}

// snippet はエラーメッセージに含める応答ボディを200文字に切り詰める。
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if r := []rune(s); len(r) > 200 {
		return string(r[:200]) + "..."
	}
	return s
}
