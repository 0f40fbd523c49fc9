package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// HTTPレスポンスとCLI出力の両方で使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, conflict, not_found, publish, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation    = "VALIDATION"
	ErrCodeDuplicateSlot = "DUPLICATE_SLOT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodePublishFailed = "PUBLISH_FAILED"
	ErrCodeInvalidState  = "INVALID_STATE"
)

// ErrDuplicateSlot は (kind, content_id, scheduled_time) が既存Slotと重複した場合のエラー。
var ErrDuplicateSlot = &APIError{
	Code:     ErrCodeDuplicateSlot,
	Message:  "同じ種別・コンテンツ・公開時刻の投稿枠が既に存在します。",
	Category: "conflict",
	Action:   "公開時刻を変更するか、既存の投稿枠を確認してください。",
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewNotFoundError は参照先未検出エラーを生成する。
func NewNotFoundError(resource string, id int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません: %d", resource, id),
		Category: "not_found",
		Action:   "IDを確認してください。",
	}
}

// NewPublishFailedError は公開処理の失敗エラーを生成する。
func NewPublishFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePublishFailed,
		Message:  fmt.Sprintf("公開に失敗しました: %s", reason),
		Category: "publish",
		Action:   "投稿枠のエラー内容を確認し、必要に応じてリセットしてください。",
	}
}

// NewInvalidStateError は状態遷移が許可されない場合のエラーを生成する。
func NewInvalidStateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  reason,
		Category: "conflict",
		Action:   "対象の現在の状態を確認してください。",
	}
}

// HasCode はerrチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
