package middleware

import (
	"context"
	"log/slog"
	"net/http"
)

// GrantChecker はユーザーが(resource, action)の実効権限を持つかを判定する。
// repository.GrantRepositoryが実装する。
type GrantChecker interface {
	HasGrant(ctx context.Context, userID, resource, action string) (bool, error)
}

// PermissionRecorder は権限判定の結果を記録する。
type PermissionRecorder interface {
	RecordPermissionCheck(resource, action, outcome string)
}

type nopPermissionRecorder struct{}

func (nopPermissionRecorder) RecordPermissionCheck(string, string, string) {}

// PermissionGate はルートごとの権限チェックミドルウェアを生成する。
type PermissionGate struct {
	checker  GrantChecker
	recorder PermissionRecorder
}

// NewPermissionGate はPermissionGateを生成する。recorderがnilの場合は記録しない。
func NewPermissionGate(checker GrantChecker, recorder PermissionRecorder) *PermissionGate {
	if recorder == nil {
		recorder = nopPermissionRecorder{}
	}
	return &PermissionGate{checker: checker, recorder: recorder}
}

// Require は(resource, action)の権限を持つユーザーだけを通すミドルウェアを返す。
// 認証ミドルウェアの後に配置すること。
func (g *PermissionGate) Require(resource, action string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claim, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			allowed, err := g.checker.HasGrant(r.Context(), claim.Subject, resource, action)
			if err != nil {
				slog.Error("permission check failed",
					slog.String("user_id", claim.Subject),
					slog.String("resource", resource),
					slog.String("action", action),
					slog.String("error", err.Error()),
				)
				g.recorder.RecordPermissionCheck(resource, action, "error")
				WriteErrorResponse(w, http.StatusInternalServerError, "Permission check failed")
				return
			}
			if !allowed {
				slog.Warn("permission denied",
					slog.String("user_id", claim.Subject),
					slog.String("resource", resource),
					slog.String("action", action),
				)
				g.recorder.RecordPermissionCheck(resource, action, "denied")
				WriteErrorResponse(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			g.recorder.RecordPermissionCheck(resource, action, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}
