package token

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-32bytes-long!!!!"

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type stubRevocations struct {
	revoked map[string]bool
	err     error
	calls   int
}

func (s *stubRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[jti], nil
}

func testIdentity() Identity {
	return Identity{
		UserID:      "7b0d3c1e-8d4c-4d6b-9d5a-0f6e1c2b3a49",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		PhotoURL:    "https://example.com/alice.png",
	}
}

func newTestIssuer(t *testing.T, clock *fakeClock, opts ...Option) *Issuer {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	iss, err := NewIssuer(testSecret, opts...)
	require.NoError(t, err)
	return iss
}

func TestNewIssuer_EmptySecret_ReturnsConfigurationError(t *testing.T) {
	for _, secret := range []string{"", "   "} {
		iss, err := NewIssuer(secret)
		require.ErrorIs(t, err, ErrConfiguration)
		require.Nil(t, iss)
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	iss := newTestIssuer(t, clock)
	id := testIdentity()

	raw, expiresAt, err := iss.Issue(id, VariantShort)
	require.NoError(t, err)
	require.Equal(t, baseTime.Add(time.Hour), expiresAt)

	claim, err := iss.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, id.UserID, claim.Subject)
	require.Equal(t, id.Email, claim.Email)
	require.Equal(t, id.DisplayName, claim.DisplayName)
	require.Equal(t, id.PhotoURL, claim.PhotoURL)
	require.Equal(t, IssuerName, claim.Issuer)
	require.True(t, claim.IssuedAt.Equal(baseTime))
	require.True(t, claim.ExpiresAt.Equal(expiresAt))
	require.NotEmpty(t, claim.TokenID)
}

func TestIssue_LongVariant_SevenDays(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	iss := newTestIssuer(t, clock)

	raw, expiresAt, err := iss.Issue(testIdentity(), VariantLong)
	require.NoError(t, err)
	require.Equal(t, baseTime.Add(604800*time.Second), expiresAt)

	clock.now = baseTime.Add(604799 * time.Second)
	_, err = iss.Verify(context.Background(), raw)
	require.NoError(t, err)

	clock.now = baseTime.Add(604801 * time.Second)
	_, err = iss.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssue_EachTokenHasUniqueID(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	iss := newTestIssuer(t, clock)

	a, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)
	b, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestIssue_MissingUserID_ReturnsError(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	_, _, err := iss.Issue(Identity{Email: "alice@example.com"}, VariantShort)
	require.Error(t, err)
}

func TestVerify_Expiry_Boundary(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	iss := newTestIssuer(t, clock)

	raw, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)

	clock.now = baseTime.Add(3599 * time.Second)
	_, err = iss.Verify(context.Background(), raw)
	require.NoError(t, err, "token must still be valid one second before expiry")

	clock.now = baseTime.Add(3601 * time.Second)
	_, err = iss.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_TamperedSignature_Rejected(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	raw, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[0] ^= 0x01
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)

	_, err = iss.Verify(context.Background(), strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidToken)
}

// base64urlAlphabet はJWTセグメントの符号化に使う文字集合。
const base64urlAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// TestVerify_EncodedSignatureBitFlips_AllRejected は署名セグメントの各文字について
// 符号化された6ビットのどれを反転しても検証に失敗することを確認する。
// 末尾の文字には復号時に捨てられるパディングビットが含まれる。
func TestVerify_EncodedSignatureBitFlips_AllRejected(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	for n := 0; n < 20; n++ {
		raw, _, err := iss.Issue(testIdentity(), VariantShort)
		require.NoError(t, err)

		dot := strings.LastIndex(raw, ".")
		for pos := dot + 1; pos < len(raw); pos++ {
			idx := strings.IndexByte(base64urlAlphabet, raw[pos])
			require.GreaterOrEqual(t, idx, 0, "unexpected character %q", raw[pos])

			for bit := 0; bit < 6; bit++ {
				tampered := []byte(raw)
				tampered[pos] = base64urlAlphabet[idx^(1<<bit)]

				_, err := iss.Verify(context.Background(), string(tampered))
				require.ErrorIs(t, err, ErrInvalidToken,
					"token %d: flipping bit %d of signature char %d was accepted", n, bit, pos-dot-1)
			}
		}
	}
}

func TestVerify_NonCanonicalTrailingBits_Rejected(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	raw, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)

	// HS256の署名32バイトは43文字になり、最後の文字の下位2ビットは未使用
	last := strings.IndexByte(base64urlAlphabet, raw[len(raw)-1])
	require.Zero(t, last&0x03, "issued signature should be canonical")
	tampered := raw[:len(raw)-1] + string(base64urlAlphabet[last|0x01])

	parts := strings.Split(tampered, ".")
	decoded, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	original, err := base64.RawURLEncoding.DecodeString(strings.Split(raw, ".")[2])
	require.NoError(t, err)
	require.Equal(t, original, decoded, "lenient decoding maps both strings to the same signature")

	_, err = iss.Verify(context.Background(), tampered)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueVerify_ImpersonatedBy(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	identity := testIdentity()
	identity.ImpersonatedBy = "admin-1"
	raw, _, err := iss.Issue(identity, VariantShort)
	require.NoError(t, err)

	claim, err := iss.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, identity.UserID, claim.Subject)
	require.Equal(t, "admin-1", claim.ImpersonatedBy)

	plain, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)
	claim, err = iss.Verify(context.Background(), plain)
	require.NoError(t, err)
	require.Empty(t, claim.ImpersonatedBy)
}

func TestVerify_TamperedPayload_Rejected(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	raw, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(payload), "alice@example.com", "mallory@example.com", 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	_, err = iss.Verify(context.Background(), strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_DifferentSecret_Rejected(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	iss := newTestIssuer(t, clock)
	other, err := NewIssuer("another-secret-entirely", WithClock(clock.Now))
	require.NoError(t, err)

	raw, _, err := other.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)

	_, err = iss.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongIssuer_Rejected(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	iss := newTestIssuer(t, clock)

	claims := SessionClaims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "u-1",
			IssuedAt:  jwt.NewNumericDate(baseTime),
			ExpiresAt: jwt.NewNumericDate(baseTime.Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = iss.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_NoneAlgorithm_Rejected(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	claims := SessionClaims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    IssuerName,
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(baseTime.Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage_Rejected(t *testing.T) {
	iss := newTestIssuer(t, &fakeClock{now: baseTime})

	for _, raw := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		_, err := iss.Verify(context.Background(), raw)
		require.ErrorIs(t, err, ErrInvalidToken, "raw=%q", raw)
	}
}

func TestVerify_RevokedTokenID_Rejected(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	revs := &stubRevocations{revoked: map[string]bool{}}
	iss := newTestIssuer(t, clock, WithRevocationChecker(revs))

	raw, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)

	claim, err := iss.Verify(context.Background(), raw)
	require.NoError(t, err)

	revs.revoked[claim.TokenID] = true
	_, err = iss.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, err, ErrRevoked)
	require.Equal(t, 2, revs.calls)
}

func TestVerify_RevocationLookupFails_Rejected(t *testing.T) {
	revs := &stubRevocations{err: errors.New("connection refused")}
	iss := newTestIssuer(t, &fakeClock{now: baseTime}, WithRevocationChecker(revs))

	raw, _, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)

	_, err = iss.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.NotErrorIs(t, err, ErrRevoked)
}

func TestWithTTL_OverridesDefaults(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	iss := newTestIssuer(t, clock, WithTTL(30*time.Minute, 0))

	require.Equal(t, 30*time.Minute, iss.TTL(VariantShort))
	require.Equal(t, DefaultLongTTL, iss.TTL(VariantLong))

	_, expiresAt, err := iss.Issue(testIdentity(), VariantShort)
	require.NoError(t, err)
	require.Equal(t, baseTime.Add(30*time.Minute), expiresAt)
}
