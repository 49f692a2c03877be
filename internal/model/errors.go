// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// ErrorKind は認証・認可エラーの分類。
// クライアントは401/403/500の違いでUIの挙動を切り替えるため、
// 分類とHTTPステータスは1対1に対応させる。
type ErrorKind string

const (
	ErrKindBadRequest      ErrorKind = "bad_request"
	ErrKindUnauthenticated ErrorKind = "unauthenticated"
	ErrKindUnauthorized    ErrorKind = "unauthorized"
	ErrKindForbidden       ErrorKind = "forbidden"
	ErrKindNotFound        ErrorKind = "not_found"
	ErrKindInternal        ErrorKind = "internal"
	// ErrKindConfiguration は起動時にのみ発生する致命的な設定エラー。
	ErrKindConfiguration ErrorKind = "configuration"
)

// APIError はユーザーに返すエラーを表す。
// Messageはそのままレスポンスボディに入るため、内部情報を含めてはならない。
type APIError struct {
	Kind    ErrorKind
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// HTTPStatus はエラー分類に対応するHTTPステータスコードを返す。
func (e *APIError) HTTPStatus() int {
	switch e.Kind {
	case ErrKindBadRequest:
		return http.StatusBadRequest
	case ErrKindUnauthenticated, ErrKindUnauthorized:
		return http.StatusUnauthorized
	case ErrKindForbidden:
		return http.StatusForbidden
	case ErrKindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewBadRequestError は必須入力の欠落を表すエラーを生成する。
func NewBadRequestError(message string) *APIError {
	return &APIError{Kind: ErrKindBadRequest, Message: message}
}

// NewUnauthenticatedError はクレデンシャルが無い、または無効な場合のエラーを生成する。
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{Kind: ErrKindUnauthenticated, Message: message}
}

// NewUnauthorizedError はクレデンシャル自体は読めたが拒否された場合のエラーを生成する。
// 無効化されたアカウント、未登録ユーザー、期限切れのプロバイダートークンなど。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{Kind: ErrKindUnauthorized, Message: message}
}

// NewForbiddenError は権限不足のエラーを生成する。
func NewForbiddenError(message string) *APIError {
	return &APIError{Kind: ErrKindForbidden, Message: message}
}

// NewNotFoundError は操作対象が存在しない場合のエラーを生成する。
func NewNotFoundError(message string) *APIError {
	return &APIError{Kind: ErrKindNotFound, Message: message}
}

// NewInternalError は予期しないエラーを生成する。
// 詳細はログにのみ残し、呼び出し元には一般的なメッセージを返す。
func NewInternalError(message string) *APIError {
	return &APIError{Kind: ErrKindInternal, Message: message}
}
