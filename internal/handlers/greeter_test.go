package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	"github.com/BradenHooton/sentinel/pkg/wire"
)

type mockAuthenticator struct {
	LoginFunc                func(ctx context.Context, req models.LoginRequest) models.AuthResult
	CompleteSecondFactorFunc func(ctx context.Context, token, code, ip string) models.AuthResult
}

func (m *mockAuthenticator) Login(ctx context.Context, req models.LoginRequest) models.AuthResult {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return models.AuthResult{Outcome: models.OutcomeInvalidCredentials, Username: req.Username}
}

func (m *mockAuthenticator) CompleteSecondFactor(ctx context.Context, token, code, ip string) models.AuthResult {
	if m.CompleteSecondFactorFunc != nil {
		return m.CompleteSecondFactorFunc(ctx, token, code, ip)
	}
	return models.AuthResult{Outcome: models.OutcomeInvalidCredentials}
}

// syncLive delivers results inline so output order is deterministic
type syncLive struct {
	result    models.AuthResult
	gen       uint64
	cancelled int
}

func (l *syncLive) Submit(_ context.Context, username, password, _ string, deliver func(services.LiveResult)) (uint64, bool) {
	l.gen++
	if len(password) < services.MinLiveLength {
		return l.gen, false
	}
	res := l.result
	res.Username = username
	deliver(services.LiveResult{Generation: l.gen, Result: res})
	return l.gen, true
}

func (l *syncLive) Cancel() { l.cancelled++ }

type mockTokens map[string]string

func (m mockTokens) ValidateToken(_ context.Context, token string) (string, bool) {
	u, ok := m[token]
	if ok {
		delete(m, token)
	}
	return u, ok
}

type staticBiometrics auth.BiometricStatus

func (s staticBiometrics) Available(context.Context) auth.BiometricStatus {
	return auth.BiometricStatus(s)
}

func newTestGreeter(authn Authenticator, live *syncLive) *GreeterHandler {
	if live == nil {
		live = &syncLive{}
	}
	return NewGreeterHandler(authn, live, mockTokens{"tok-1": "alice"},
		staticBiometrics{Fingerprint: true}, true,
		slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func serve(t *testing.T, h *GreeterHandler, lines ...string) []wire.Response {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, h.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), &out))

	var responses []wire.Response
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var resp wire.Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestGreeterHandler_Authenticate(t *testing.T) {
	var got models.LoginRequest
	authn := &mockAuthenticator{
		LoginFunc: func(_ context.Context, req models.LoginRequest) models.AuthResult {
			got = req
			return models.AuthResult{Outcome: models.OutcomeAuthenticated, Username: req.Username}
		},
	}

	responses := serve(t, newTestGreeter(authn, nil),
		`{"id":"1","op":"authenticate","username":"alice","password":"secret","ip_address":"[::1]:5000"}`)

	require.Len(t, responses, 1)
	assert.Equal(t, "1", responses[0].ID)
	assert.True(t, responses[0].OK)
	assert.Equal(t, "authenticated", responses[0].Outcome)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "::1", got.IPAddress)
}

func TestGreeterHandler_FailureMessagesAreUniform(t *testing.T) {
	tests := []struct {
		name        string
		result      models.AuthResult
		wantMessage string
		wantRetry   int
	}{
		{"invalid", models.AuthResult{Outcome: models.OutcomeInvalidCredentials}, "invalid credentials", 0},
		{"rate limited", models.AuthResult{Outcome: models.OutcomeRateLimited, RetryAfter: 41500 * time.Millisecond}, "try again later", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := &mockAuthenticator{
				LoginFunc: func(context.Context, models.LoginRequest) models.AuthResult { return tt.result },
			}
			responses := serve(t, newTestGreeter(authn, nil), `{"id":"1","op":"authenticate","username":"alice","password":"x"}`)

			require.Len(t, responses, 1)
			assert.False(t, responses[0].OK)
			assert.Equal(t, tt.wantMessage, responses[0].Message)
			assert.Equal(t, tt.wantRetry, responses[0].RetryAfter)
			assert.Nil(t, responses[0].Error)
		})
	}
}

func TestGreeterHandler_SecondFactor(t *testing.T) {
	authn := &mockAuthenticator{
		LoginFunc: func(context.Context, models.LoginRequest) models.AuthResult {
			return models.AuthResult{Outcome: models.OutcomeSecondFactorRequired, Username: "alice", Token: "bridge"}
		},
		CompleteSecondFactorFunc: func(_ context.Context, token, code, _ string) models.AuthResult {
			if token == "bridge" && code == "123456" {
				return models.AuthResult{Outcome: models.OutcomeAuthenticated, Username: "alice"}
			}
			return models.AuthResult{Outcome: models.OutcomeInvalidCredentials}
		},
	}

	responses := serve(t, newTestGreeter(authn, nil),
		`{"id":"1","op":"authenticate","username":"alice","password":"x"}`,
		`{"id":"2","op":"verify_second_factor","token":"bridge","code":"123456"}`,
		`{"id":"3","op":"verify_second_factor","token":"bridge","code":"12ab56"}`,
		`{"id":"4","op":"verify_second_factor","token":"bridge"}`,
	)

	require.Len(t, responses, 4)
	assert.Equal(t, "second_factor_required", responses[0].Outcome)
	assert.Equal(t, "bridge", responses[0].Token)
	assert.True(t, responses[1].OK)
	assert.Equal(t, "authenticated", responses[1].Outcome)
	require.NotNil(t, responses[2].Error)
	assert.Equal(t, "bad_request", responses[2].Error.Error)
	require.NotNil(t, responses[3].Error)
}

func TestGreeterHandler_LiveValidate(t *testing.T) {
	live := &syncLive{result: models.AuthResult{Outcome: models.OutcomeAuthenticated}}
	h := newTestGreeter(&mockAuthenticator{}, live)

	responses := serve(t, h,
		`{"id":"a","op":"live_validate","username":"alice","password":"abc"}`,
		`{"id":"b","op":"live_validate","username":"alice","password":"correct horse"}`,
		`{"id":"c","op":"cancel_live"}`,
	)

	require.Len(t, responses, 4)

	var ack liveAck
	require.NoError(t, json.Unmarshal(responses[0].Data, &ack))
	assert.False(t, ack.Scheduled)

	// The inline delivery precedes the acknowledgement.
	assert.Equal(t, "b", responses[1].ID)
	assert.Equal(t, "authenticated", responses[1].Outcome)
	var data liveData
	require.NoError(t, json.Unmarshal(responses[1].Data, &data))
	assert.True(t, data.AutoSubmit)
	assert.Equal(t, uint64(2), data.Generation)

	require.NoError(t, json.Unmarshal(responses[2].Data, &ack))
	assert.True(t, ack.Scheduled)
	assert.True(t, responses[3].OK)

	// cancel_live plus the cancel on stream close
	assert.Equal(t, 2, live.cancelled)
}

func TestGreeterHandler_LiveValidateRespectsAutoSubmit(t *testing.T) {
	live := &syncLive{result: models.AuthResult{Outcome: models.OutcomeAuthenticated}}
	h := newTestGreeter(&mockAuthenticator{}, live)
	h.SetAutoSubmit(false)

	responses := serve(t, h, `{"id":"b","op":"live_validate","username":"alice","password":"correct horse"}`)
	require.Len(t, responses, 2)

	var data liveData
	require.NoError(t, json.Unmarshal(responses[0].Data, &data))
	assert.False(t, data.AutoSubmit)
}

func TestGreeterHandler_CheckStrength(t *testing.T) {
	responses := serve(t, newTestGreeter(&mockAuthenticator{}, nil),
		`{"id":"1","op":"check_strength","password":"MyP@ssw0rd123!"}`)

	require.Len(t, responses, 1)
	var report models.StrengthReport
	require.NoError(t, json.Unmarshal(responses[0].Data, &report))
	assert.GreaterOrEqual(t, report.Score, 5)
}

func TestGreeterHandler_ValidateTokenAndBiometrics(t *testing.T) {
	responses := serve(t, newTestGreeter(&mockAuthenticator{}, nil),
		`{"id":"1","op":"validate_token","token":"tok-1"}`,
		`{"id":"2","op":"validate_token","token":"tok-1"}`,
		`{"id":"3","op":"biometrics"}`,
	)

	require.Len(t, responses, 3)
	assert.True(t, responses[0].OK)
	assert.Equal(t, "alice", responses[0].Username)
	assert.False(t, responses[1].OK)
	assert.Equal(t, "invalid credentials", responses[1].Message)

	var status auth.BiometricStatus
	require.NoError(t, json.Unmarshal(responses[2].Data, &status))
	assert.True(t, status.Fingerprint)
	assert.False(t, status.FaceRecognition)
}

func TestGreeterHandler_BadInput(t *testing.T) {
	responses := serve(t, newTestGreeter(&mockAuthenticator{}, nil),
		`not json`,
		``,
		`{"id":"2","op":"reboot"}`,
		`{"id":"3","op":"authenticate","password":"x"}`,
		`{"id":"4","op":"check_strength","password":"ok"}`,
	)

	require.Len(t, responses, 4)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "bad_request", responses[0].Error.Error)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, "unknown_op", responses[1].Error.Error)
	require.NotNil(t, responses[2].Error)
	assert.Equal(t, "bad_request", responses[2].Error.Error)
	assert.True(t, responses[3].OK, "the stream keeps going after bad lines")
}

func TestGreeterHandler_PanicBecomesInternalError(t *testing.T) {
	authn := &mockAuthenticator{
		LoginFunc: func(context.Context, models.LoginRequest) models.AuthResult {
			panic("credential store exploded")
		},
	}

	responses := serve(t, newTestGreeter(authn, nil),
		`{"id":"1","op":"authenticate","username":"alice","password":"secret"}`,
		`{"id":"2","op":"check_strength","password":"abc"}`)

	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, "internal_error", responses[0].Error.Error)
	assert.False(t, responses[0].OK)
	assert.Equal(t, "2", responses[1].ID)
	assert.Nil(t, responses[1].Error)
}
