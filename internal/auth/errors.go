package auth

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidToken はどの検証経路でもトークンを受理できなかったことを表す。
	ErrInvalidToken = errors.New("invalid token")

	// ErrProviderTokenRejected はIDプロバイダーの検証器がトークンそのものを拒否したことを表す。
	// 期限切れ、署名不正、形式不正、audience不一致など。
	ErrProviderTokenRejected = errors.New("identity provider rejected token")

	// ErrIssuerMismatch は署名は正しいが発行者がGoogleではないことを表す。
	ErrIssuerMismatch = errors.New("token issuer mismatch")

	// ErrProviderUnavailable は公開鍵の取得失敗など、トークン以外の理由で検証できなかったことを表す。
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// rejectedTokenMessages はidtoken検証器がトークン自体の問題で返すエラーメッセージの断片。
// 小文字で比較する。
var rejectedTokenMessages = []string{
	"token expired",
	"token used too late",
	"invalid token",
	"three segments",
	"audience provided does not match",
	"expected jwt signed with",
	"could not find matching cert",
	"signature not valid",
	"verification error",
	"unable to decode",
	"unable to unmarshal",
	"illegal base64",
}

// IsRejectedProviderToken はエラーがプロバイダーによるトークン拒否かどうかを判定する。
// プロバイダーのエラー分類はこの関数にのみ閉じ込める。
func IsRejectedProviderToken(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderTokenRejected) {
		return true
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range rejectedTokenMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
