package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/letwinventory/internal/middleware"
)

// ImpersonatePattern は管理者の代理ログインのルート。
const ImpersonatePattern = "/api/admin/user/{id}/impersonate"

// Resources は権限で保護する業務リソースの一覧。
var Resources = []string{
	"tasks",
	"projects",
	"parts",
	"inventory",
	"equipment",
	"orders",
	"harness",
	"requirements",
	"admin",
}

// ResourceRoute は保護ルート1件分の(メソッド, パターン, リソース, アクション)。
type ResourceRoute struct {
	Method   string
	Pattern  string
	Resource string
	Action   string
}

// ResourceRoutes は全保護ルートを返す。リソースとアクションはルート定義で固定され、
// リクエスト内容からは決まらない。
func ResourceRoutes() []ResourceRoute {
	routes := make([]ResourceRoute, 0, len(Resources)*6+2)
	for _, res := range Resources {
		base := "/api/" + res
		routes = append(routes,
			ResourceRoute{http.MethodGet, base, res, "read"},
			ResourceRoute{http.MethodGet, base + "/*", res, "read"},
			ResourceRoute{http.MethodPost, base, res, "write"},
			ResourceRoute{http.MethodPut, base + "/*", res, "write"},
			ResourceRoute{http.MethodPatch, base + "/*", res, "write"},
			ResourceRoute{http.MethodDelete, base + "/*", res, "delete"},
		)
	}
	return append(routes,
		ResourceRoute{http.MethodPost, "/api/requirements/{id}/approve", "requirements", "approve"},
		ResourceRoute{http.MethodPost, ImpersonatePattern, "admin", "impersonate"},
	)
}

// notImplemented は業務ハンドラーが注入されていないリソースの応答。
func notImplemented(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotImplemented, "Not implemented")
}

// routeKey はbuiltinsのキー。
func routeKey(method, pattern string) string {
	return method + " " + pattern
}

// mountResourceRoutes は保護ルートを権限ゲート付きで登録する。
// builtinsに登録されたルートはそのハンドラーを優先する。
// どちらにも無いリソースは501を返す。
func mountResourceRoutes(r chi.Router, gate *middleware.PermissionGate, handlers, builtins map[string]http.Handler) {
	for _, route := range ResourceRoutes() {
		h, ok := builtins[routeKey(route.Method, route.Pattern)]
		if !ok || h == nil {
			h, ok = handlers[route.Resource]
		}
		if !ok || h == nil {
			h = http.HandlerFunc(notImplemented)
		}
		r.With(gate.Require(route.Resource, route.Action)).Method(route.Method, route.Pattern, h)
	}
}
