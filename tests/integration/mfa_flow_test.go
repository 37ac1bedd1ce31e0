package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// enrollmentPayload mirrors the one-time enrollment response
type enrollmentPayload struct {
	EnrollmentID string   `json:"enrollment_id"`
	Method       string   `json:"method"`
	Secret       string   `json:"secret"`
	OtpauthURL   string   `json:"otpauth_url"`
	QRCode       string   `json:"qr_code"`
	BackupCodes  []string `json:"backup_codes"`
}

type mfaStatus struct {
	Methods []struct {
		Method            string `json:"method"`
		Verified          bool   `json:"verified"`
		BackupCodesUnused int    `json:"backup_codes_unused"`
	} `json:"methods"`
}

// registerAccount creates an account through the API and returns its tokens
func registerAccount(t *testing.T, suffix string) (email, password string, tokens *AuthTokens) {
	t.Helper()

	email, password = TestAccount(suffix)
	resp, err := testServer.Request(http.MethodPost, "/api/v1/auth/register",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tokens, err = ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	return email, password, tokens
}

// enrollTotp enrolls and verifies a TOTP method, returning the payload
func enrollTotp(t *testing.T, accessToken string) *enrollmentPayload {
	t.Helper()

	resp, err := testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/enroll", accessToken,
		map[string]string{"method": "totp"})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payload enrollmentPayload
	require.NoError(t, ParseJSONResponse(resp, &payload))
	require.NotEmpty(t, payload.Secret)

	code, err := totp.GenerateCode(payload.Secret, time.Now())
	require.NoError(t, err)

	resp, err = testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/enroll/verify", accessToken,
		map[string]string{"method": "totp", "code": code})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return &payload
}

func TestTotpEnrollment_FullLoginHandshake(t *testing.T) {
	resetState(t)
	email, password, tokens := registerAccount(t, "totp")

	resp, err := testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/enroll", tokens.AccessToken,
		map[string]string{"method": "totp"})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payload enrollmentPayload
	require.NoError(t, ParseJSONResponse(resp, &payload))
	assert.NotEmpty(t, payload.Secret)
	assert.Contains(t, payload.OtpauthURL, "otpauth://totp/")
	assert.True(t, strings.HasPrefix(payload.QRCode, "data:image/png;base64,"))
	assert.Len(t, payload.BackupCodes, testServer.Config.Mfa.BackupCodeCount)

	// Unverified enrollments do not gate login yet
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	preVerify, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.False(t, preVerify.MfaRequired)
	assert.NotEmpty(t, preVerify.AccessToken)

	// First valid code verifies the enrollment
	code, err := totp.GenerateCode(payload.Secret, time.Now())
	require.NoError(t, err)

	resp, err = testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/enroll/verify", tokens.AccessToken,
		map[string]string{"method": "totp", "code": code})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var verified struct {
		Method   string `json:"method"`
		Verified bool   `json:"verified"`
	}
	require.NoError(t, ParseJSONResponse(resp, &verified))
	assert.True(t, verified.Verified)

	// The handshake now stops at the second factor
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pending, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.True(t, pending.MfaRequired)
	assert.Contains(t, pending.MfaMethods, "totp")
	assert.Empty(t, pending.AccessToken)
	assert.Empty(t, pending.RefreshToken)

	// A fresh code completes it
	code, err = totp.GenerateCode(payload.Secret, time.Now())
	require.NoError(t, err)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "totp", "code": code}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	final, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.False(t, final.MfaRequired)
	assert.NotEmpty(t, final.AccessToken)
	assert.NotEmpty(t, final.RefreshToken)
}

func TestSmsEnrollment_CodeDeliveredToChannel(t *testing.T) {
	resetState(t)
	email, password, tokens := registerAccount(t, "sms")
	const phone = "+15105550123"

	resp, err := testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/enroll", tokens.AccessToken,
		map[string]string{"method": "sms", "channel": phone})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payload enrollmentPayload
	require.NoError(t, ParseJSONResponse(resp, &payload))
	assert.Empty(t, payload.Secret)
	assert.Len(t, payload.BackupCodes, testServer.Config.Mfa.BackupCodeCount)

	// Request a code for the unverified enrollment
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/challenge",
		map[string]string{"email": email, "method": "sms"}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ticket struct {
		ChallengeID string `json:"challenge_id"`
		Method      string `json:"method"`
	}
	require.NoError(t, ParseJSONResponse(resp, &ticket))
	assert.NotEmpty(t, ticket.ChallengeID)

	sent := testServer.Sender.LastCode()
	require.NotNil(t, sent)
	assert.Equal(t, phone, sent.Destination)
	assert.Len(t, sent.Code, testServer.Config.Mfa.OtpDigits)

	// The delivered code verifies the enrollment
	resp, err = testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/enroll/verify", tokens.AccessToken,
		map[string]string{"method": "sms", "code": sent.Code})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Login now pauses for the second factor; a new code finishes it
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	pending, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	require.True(t, pending.MfaRequired)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/challenge",
		map[string]string{"email": email, "method": "sms"}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	login := testServer.Sender.LastCode()
	require.NotNil(t, login)
	require.NotEqual(t, sent.Code, login.Code)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "sms", "code": login.Code}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	final, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.NotEmpty(t, final.AccessToken)

	// A consumed code cannot be replayed
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "sms", "code": login.Code}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEmailEnrollment_DefaultsToAccountAddress(t *testing.T) {
	resetState(t)
	email, _, tokens := registerAccount(t, "emailmfa")

	resp, err := testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/enroll", tokens.AccessToken,
		map[string]string{"method": "email"})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/challenge",
		map[string]string{"email": email, "method": "email"}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	sent := testServer.Sender.LastCode()
	require.NotNil(t, sent)
	assert.Equal(t, email, sent.Destination)
}

func TestMfaChallenge_NotEnrolled(t *testing.T) {
	resetState(t)
	email, _, _ := registerAccount(t, "nochallenge")

	resp, err := testServer.Request(http.MethodPost, "/api/v1/auth/mfa/challenge",
		map[string]string{"email": email, "method": "sms"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	code, err := GetErrorCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "not_enrolled", code)
}

func TestMfaVerify_WrongCodesTripThrottle(t *testing.T) {
	resetState(t)
	email, password, tokens := registerAccount(t, "mfathrottle")
	payload := enrollTotp(t, tokens.AccessToken)

	resp, err := testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	pending, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	require.True(t, pending.MfaRequired)

	// Wrong codes below the threshold report a mismatch
	for i := 0; i < testServer.Config.Lockout.Threshold-1; i++ {
		resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
			map[string]string{"email": email, "method": "totp", "code": "WRONGCODE"}, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		code, cerr := GetErrorCode(resp)
		require.NoError(t, cerr)
		assert.Equal(t, "code_mismatch", code)
	}

	// The threshold failure closes the window
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "totp", "code": "WRONGCODE"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	resp.Body.Close()

	// Even the right code bounces off the closed window
	valid, err := totp.GenerateCode(payload.Secret, time.Now())
	require.NoError(t, err)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "totp", "code": valid}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestBackupCode_CompletesLoginOnce(t *testing.T) {
	resetState(t)
	email, password, tokens := registerAccount(t, "backup")
	payload := enrollTotp(t, tokens.AccessToken)
	backup := payload.BackupCodes[0]

	resp, err := testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	resp.Body.Close()

	// A backup code stands in for the lost authenticator
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "totp", "code": backup}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	final, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.NotEmpty(t, final.AccessToken)

	// Consumption is visible in the status listing
	resp, err = testServer.RequestWithAuth(http.MethodGet, "/api/v1/mfa/status", tokens.AccessToken, nil)
	require.NoError(t, err)
	var status mfaStatus
	require.NoError(t, ParseJSONResponse(resp, &status))
	require.Len(t, status.Methods, 1)
	assert.Equal(t, testServer.Config.Mfa.BackupCodeCount-1, status.Methods[0].BackupCodesUnused)

	// The same code cannot be spent twice
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "totp", "code": backup}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	code, err := GetErrorCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "code_mismatch", code)
}

func TestRegenerateBackupCodes_RetiresOldSet(t *testing.T) {
	resetState(t)
	email, password, tokens := registerAccount(t, "regen")
	payload := enrollTotp(t, tokens.AccessToken)
	oldBackup := payload.BackupCodes[0]

	valid, err := totp.GenerateCode(payload.Secret, time.Now())
	require.NoError(t, err)

	resp, err := testServer.RequestWithAuth(http.MethodPost, "/api/v1/mfa/backup-codes/regenerate", tokens.AccessToken,
		map[string]string{"method": "totp", "code": valid})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var regen struct {
		BackupCodes []string `json:"backup_codes"`
	}
	require.NoError(t, ParseJSONResponse(resp, &regen))
	require.Len(t, regen.BackupCodes, testServer.Config.Mfa.BackupCodeCount)
	assert.NotContains(t, regen.BackupCodes, oldBackup)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	resp.Body.Close()

	// The old set is dead, the new one works
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "totp", "code": oldBackup}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/mfa/verify",
		map[string]string{"email": email, "method": "totp", "code": regen.BackupCodes[0]}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDisenroll_RequiresFreshCode(t *testing.T) {
	resetState(t)
	email, password, tokens := registerAccount(t, "disenroll")
	payload := enrollTotp(t, tokens.AccessToken)

	// A wrong code leaves the enrollment in place
	resp, err := testServer.RequestWithAuth(http.MethodDelete, "/api/v1/mfa/totp", tokens.AccessToken,
		map[string]string{"code": "WRONGCODE"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = testServer.RequestWithAuth(http.MethodGet, "/api/v1/mfa/status", tokens.AccessToken, nil)
	require.NoError(t, err)
	var status mfaStatus
	require.NoError(t, ParseJSONResponse(resp, &status))
	require.Len(t, status.Methods, 1)

	// A fresh code removes it
	valid, err := totp.GenerateCode(payload.Secret, time.Now())
	require.NoError(t, err)

	resp, err = testServer.RequestWithAuth(http.MethodDelete, "/api/v1/mfa/totp", tokens.AccessToken,
		map[string]string{"code": valid})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = testServer.RequestWithAuth(http.MethodGet, "/api/v1/mfa/status", tokens.AccessToken, nil)
	require.NoError(t, err)
	status = mfaStatus{}
	require.NoError(t, ParseJSONResponse(resp, &status))
	assert.Empty(t, status.Methods)

	// The password alone suffices again
	resp, err = testServer.Request(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	final, err := ExtractTokensFromResponse(resp)
	require.NoError(t, err)
	assert.False(t, final.MfaRequired)
	assert.NotEmpty(t, final.AccessToken)
}
