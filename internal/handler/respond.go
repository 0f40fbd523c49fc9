// Package handler は管理APIのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postplan/internal/middleware"
	"github.com/hitoshi/postplan/internal/model"
)

// maxBodyBytes はリクエストボディの上限。計画ファイルの取り込みを考慮して1MiB。
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeInvalidRequest(w http.ResponseWriter, reason string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストの解析に失敗しました: " + reason,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// decodeJSON はボディをdstにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeInvalidRequest(w, "ボディが大きすぎます")
			return false
		}
		writeInvalidRequest(w, err.Error())
		return false
	}
	return true
}

// pathInt64 はURLパラメータを正の整数として取得する。失敗時は400を書き込みfalseを返す。
func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError(fmt.Sprintf("%sは正の整数で指定してください", name)))
		return 0, false
	}
	return v, true
}

// queryInt はクエリパラメータを整数として取得する。未指定ならdefを返す。
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, model.NewValidationError(fmt.Sprintf("%sは整数で指定してください", name))
	}
	return v, nil
}

// handleServiceError はサービス層のエラーをレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	middleware.WriteError(w, r, logger, err)
}
