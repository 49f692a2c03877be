// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/letwinventory/internal/auth"
	"github.com/hitoshi/letwinventory/internal/middleware"
	"github.com/hitoshi/letwinventory/internal/model"
)

// userSummary はトークン発行レスポンスに含めるユーザー情報。
type userSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// userProfile は現在のユーザー情報のレスポンス。
type userProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// tokenResponse はトークン発行時のレスポンスボディ。
type tokenResponse struct {
	Token string      `json:"token"`
	User  userSummary `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toUserSummary(u *model.User) userSummary {
	return userSummary{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email}
}

func toUserProfile(u *model.User) userProfile {
	return userProfile{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, PhotoURL: u.PhotoURL}
}

func toTokenResponse(result *auth.LoginResult) tokenResponse {
	return tokenResponse{Token: result.AccessToken, User: toUserSummary(result.User)}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。
// ボディが空の場合はエラーにせず、ゼロ値のまま返す。
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleServiceError はサービス層から返されたエラーをレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		// APIError以外のエラーは内部サーバーエラーとして扱う
		slog.Error("internal server error", slog.String("error", err.Error()))
	}
	middleware.WriteAPIError(w, err)
}

// writeBadJSON は解析できないリクエストボディへの応答。
func writeBadJSON(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid request body")
}
