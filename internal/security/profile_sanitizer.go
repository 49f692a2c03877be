// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer は外部IDプロバイダーから受け取ったプロフィール情報を
// 保存・トークン埋め込み前に無害化する。表示名はUIにそのまま描画されるため、
// bluemondayのStrictPolicyで全てのタグを除去する。
package security

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は表示名の最大文字数（users.display_nameの列長）。
const maxDisplayNameLength = 255

// ProfileSanitizer はプロフィール情報のサニタイズ機能を表す。
type ProfileSanitizer interface {
	// DisplayName は全てのHTMLタグを除去し、前後の空白を取り除いた表示名を返す。
	// 255文字を超える部分は切り捨てる。
	DisplayName(raw string) string

	// PhotoURL はhttpsスキームの絶対URLのみを返す。それ以外は空文字列。
	PhotoURL(raw string) string
}

type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerの新しいインスタンスを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

func (s *profileSanitizer) DisplayName(raw string) string {
	// StrictPolicyはエンティティをエスケープして返すため、表示用に戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > maxDisplayNameLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxDisplayNameLength])
	}
	return cleaned
}

func (s *profileSanitizer) PhotoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}
