package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/letwinventory/internal/model"
)

// 検証経路の名前。メトリクスのラベルに使用する。
const (
	PathProvider = "provider"
	PathSession  = "session"
)

// SessionTokenVerifier はアプリケーション自身が発行したセッショントークンを検証する。
// *token.Issuerが実装する。
type SessionTokenVerifier interface {
	Verify(ctx context.Context, raw string) (*model.IdentityClaim, error)
}

// VerificationRecorder はトークン検証結果を記録する。
type VerificationRecorder interface {
	RecordTokenVerification(path, outcome string)
}

type nopVerificationRecorder struct{}

func (nopVerificationRecorder) RecordTokenVerification(string, string) {}

// verifyPath は1つの検証経路。
type verifyPath struct {
	name   string
	verify func(ctx context.Context, raw string) (*model.IdentityClaim, error)
}

// Verifier はベアラートークンの発行元を判別して検証する。
//
// 同じトークン枠にGoogle IDトークンとセッショントークンのどちらも届き得るため、
// プロバイダー経路、セッション経路の順に試し、最初に成功した結果を採用する。
type Verifier struct {
	provider *GoogleTokenVerifier
	sessions SessionTokenVerifier
	audience string
	recorder VerificationRecorder
}

// NewVerifier はVerifierを生成する。
// audienceは対話フローで受け付けるGoogle IDトークンのaud（OAuthクライアントID）。
// recorderがnilの場合は記録しない。
func NewVerifier(provider *GoogleTokenVerifier, sessions SessionTokenVerifier, audience string, recorder VerificationRecorder) *Verifier {
	if recorder == nil {
		recorder = nopVerificationRecorder{}
	}
	return &Verifier{
		provider: provider,
		sessions: sessions,
		audience: audience,
		recorder: recorder,
	}
}

// Verify は2経路でトークンを検証する。どちらも失敗した場合はErrInvalidTokenを返す。
func (v *Verifier) Verify(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	return v.firstSuccess(ctx, raw,
		verifyPath{name: PathProvider, verify: v.providerPath(v.audience)},
		verifyPath{name: PathSession, verify: v.sessions.Verify},
	)
}

// VerifySession はセッション経路のみで検証する。
// 自前のトークンしか発行しないパスワードログイン系で使用する。
func (v *Verifier) VerifySession(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	return v.firstSuccess(ctx, raw,
		verifyPath{name: PathSession, verify: v.sessions.Verify},
	)
}

// VerifyProvider はプロバイダー経路のみで検証する。audienceが空の場合はaudience検証を省略する。
// 呼び出し側がエラー内容で応答を分けるため、ErrInvalidTokenに丸めずに返す。
func (v *Verifier) VerifyProvider(ctx context.Context, raw, audience string) (*model.IdentityClaim, error) {
	claim, err := v.provider.Verify(ctx, raw, audience)
	v.record(PathProvider, err)
	return claim, err
}

func (v *Verifier) providerPath(audience string) func(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	return func(ctx context.Context, raw string) (*model.IdentityClaim, error) {
		return v.provider.Verify(ctx, raw, audience)
	}
}

// firstSuccess はpathsを順に試し、最初に成功したクレームを返す。
func (v *Verifier) firstSuccess(ctx context.Context, raw string, paths ...verifyPath) (*model.IdentityClaim, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	errs := make([]error, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		claim, err := p.verify(ctx, raw)
		v.record(p.name, err)
		if err == nil {
			return claim, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}

	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, errors.Join(errs...))
}

func (v *Verifier) record(path string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrProviderUnavailable):
		outcome = "error"
	default:
		outcome = "rejected"
	}
	v.recorder.RecordTokenVerification(path, outcome)
}
