package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postplan/internal/content"
	"github.com/hitoshi/postplan/internal/model"
)

// ContentService はコンテンツ関連ハンドラーが必要とするサービス。content.Store が満たす。
type ContentService interface {
	CreateContent(ctx context.Context, in content.Input) (int64, bool, error)
	SetCaption(ctx context.Context, id int64, caption, hashtags string) error
	SetCaptionVariants(ctx context.Context, id int64, variants []content.VariantInput) (int, error)
	RetireVariant(ctx context.Context, id int64, variantNo int) error
	CreateImageSet(ctx context.Context, refs []string, caption string) (*model.ImageSet, error)
	CreateImageSetFromContents(ctx context.Context, contentIDs []int64, caption string) (*model.ImageSet, error)
	CreateStory(ctx context.Context, storyType string, payload map[string]any) (int64, error)
	UpsertPool(ctx context.Context, name, tagsCSV string, active bool) error
	UpsertAudioPool(ctx context.Context, name, itemsJSON string, active bool) error
}

// ContentHandler はコンテンツ・画像セット・ストーリー・プールのHTTPハンドラー。
type ContentHandler struct {
	service ContentService
	logger  *slog.Logger
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(service ContentService, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{service: service, logger: logger}
}

type createContentResponse struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

// CreateContent はコンテンツを登録する。既存の場合は200で既存IDを返す。
// POST /api/contents
func (h *ContentHandler) CreateContent(w http.ResponseWriter, r *http.Request) {
	var req content.Input
	if !decodeJSON(w, r, &req) {
		return
	}

	id, created, err := h.service.CreateContent(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, createContentResponse{ID: id, Created: created})
}

type setCaptionRequest struct {
	Caption  string `json:"caption"`
	Hashtags string `json:"hashtags"`
}

// SetCaption はキャプションを設定する。
// PUT /api/contents/{id}/caption
func (h *ContentHandler) SetCaption(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req setCaptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetCaption(r.Context(), id, req.Caption, req.Hashtags); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setVariantsRequest struct {
	Variants []content.VariantInput `json:"variants"`
}

// SetCaptionVariants はキャプション候補を追加する。
// PUT /api/contents/{id}/variants
func (h *ContentHandler) SetCaptionVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req setVariantsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	n, err := h.service.SetCaptionVariants(r.Context(), id, req.Variants)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": n})
}

// RetireVariant はキャプション候補を無効化する。
// DELETE /api/contents/{id}/variants/{no}
func (h *ContentHandler) RetireVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	no, ok := pathInt64(w, r, "no")
	if !ok {
		return
	}

	if err := h.service.RetireVariant(r.Context(), id, int(no)); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createImageSetRequest struct {
	ImageRefs  []string `json:"image_refs"`
	ContentIDs []int64  `json:"content_ids"`
	Caption    string   `json:"caption"`
}

type imageSetResponse struct {
	ID         int64 `json:"id"`
	ImageCount int   `json:"image_count"`
}

// CreateImageSet は画像セットを作成する。content_ids が指定された場合は既存コンテンツの画像から作成する。
// POST /api/image-sets
func (h *ContentHandler) CreateImageSet(w http.ResponseWriter, r *http.Request) {
	var req createImageSetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		set *model.ImageSet
		err error
	)
	if len(req.ContentIDs) > 0 {
		set, err = h.service.CreateImageSetFromContents(r.Context(), req.ContentIDs, req.Caption)
	} else {
		set, err = h.service.CreateImageSet(r.Context(), req.ImageRefs, req.Caption)
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, imageSetResponse{ID: set.ID, ImageCount: len(set.ImageRefs)})
}

type createStoryRequest struct {
	StoryType string         `json:"story_type"`
	Payload   map[string]any `json:"payload"`
}

// CreateStory はストーリーを作成する。
// POST /api/stories
func (h *ContentHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req createStoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.CreateStory(r.Context(), req.StoryType, req.Payload)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type upsertPoolRequest struct {
	TagsCSV string `json:"tags_csv"`
	Active  *bool  `json:"active"`
}

// UpsertHashtagPool はハッシュタグプールを作成または更新する。activeの既定はtrue。
// PUT /api/pools/hashtags/{name}
func (h *ContentHandler) UpsertHashtagPool(w http.ResponseWriter, r *http.Request) {
	var req upsertPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpsertPool(r.Context(), chi.URLParam(r, "name"), req.TagsCSV, activeOrDefault(req.Active)); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type upsertAudioPoolRequest struct {
	Items  json.RawMessage `json:"items"`
	Active *bool           `json:"active"`
}

// UpsertAudioPool は音源プールを作成または更新する。
// PUT /api/pools/audio/{name}
func (h *ContentHandler) UpsertAudioPool(w http.ResponseWriter, r *http.Request) {
	var req upsertAudioPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpsertAudioPool(r.Context(), chi.URLParam(r, "name"), string(req.Items), activeOrDefault(req.Active)); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func activeOrDefault(b *bool) bool {
	return b == nil || *b
}
