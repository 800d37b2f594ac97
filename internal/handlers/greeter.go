package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	"github.com/BradenHooton/sentinel/pkg/wire"
)

// Authenticator runs the two login stages
type Authenticator interface {
	Login(ctx context.Context, req models.LoginRequest) models.AuthResult
	CompleteSecondFactor(ctx context.Context, token, code, ipAddress string) models.AuthResult
}

// LiveChecker debounces keystroke-driven checks
type LiveChecker interface {
	Submit(ctx context.Context, username, password, ipAddress string, deliver func(services.LiveResult)) (uint64, bool)
	Cancel()
}

// TokenValidator consumes bridge tokens
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, bool)
}

// BiometricProbe reports available biometric methods
type BiometricProbe interface {
	Available(ctx context.Context) auth.BiometricStatus
}

// liveAck acknowledges a live_validate request before its result arrives
type liveAck struct {
	Generation uint64 `json:"generation"`
	Scheduled  bool   `json:"scheduled"`
}

// liveData accompanies a delivered live_validate result
type liveData struct {
	Generation uint64 `json:"generation"`
	AutoSubmit bool   `json:"auto_submit"`
}

// GreeterHandler serves the newline-delimited JSON protocol spoken by the
// display-manager greeter
type GreeterHandler struct {
	auth       Authenticator
	live       LiveChecker
	tokens     TokenValidator
	biometrics BiometricProbe
	autoSubmit atomic.Bool
	logger     *slog.Logger
}

// NewGreeterHandler creates a new GreeterHandler
func NewGreeterHandler(authn Authenticator, live LiveChecker, tokens TokenValidator, biometrics BiometricProbe, autoSubmit bool, logger *slog.Logger) *GreeterHandler {
	h := &GreeterHandler{
		auth:       authn,
		live:       live,
		tokens:     tokens,
		biometrics: biometrics,
		logger:     logger,
	}
	h.autoSubmit.Store(autoSubmit)
	return h
}

// SetAutoSubmit changes the hint sent with successful live results
func (h *GreeterHandler) SetAutoSubmit(enabled bool) {
	h.autoSubmit.Store(enabled)
}

// Serve handles requests from r until EOF and writes responses to w.
// Requests are handled in order; live results are written when ready.
func (h *GreeterHandler) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := wire.NewDecoder(r)
	enc := wire.NewEncoder(w)
	defer h.live.Cancel()

	for {
		req, err := dec.Next()
		if errors.Is(err, io.EOF) {
			h.logger.Info("greeter closed the protocol stream")
			return nil
		}
		var syntaxErr *wire.SyntaxError
		if errors.As(err, &syntaxErr) {
			h.logger.Warn("malformed request line", slog.Any("error", err))
			if err := enc.WriteBadRequest("", "", "malformed request"); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		start := time.Now()
		err = h.recoverHandle(ctx, enc, req)
		h.logger.LogAttrs(ctx, slog.LevelDebug, "greeter_request",
			slog.String("id", req.ID),
			slog.String("op", req.Op),
			slog.String("duration", time.Since(start).String()))
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// recoverHandle answers a panicking request with internal_error and keeps
// the stream alive
func (h *GreeterHandler) recoverHandle(ctx context.Context, enc *wire.Encoder, req wire.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("panic while handling greeter request",
				slog.String("op", req.Op),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			err = enc.WriteInternalError(req.ID, req.Op)
		}
	}()
	return h.handle(ctx, enc, req)
}

func (h *GreeterHandler) handle(ctx context.Context, enc *wire.Encoder, req wire.Request) error {
	switch req.Op {
	case wire.OpAuthenticate, wire.OpVerifySecondFactor, wire.OpLiveValidate, wire.OpCancelLive,
		wire.OpCheckStrength, wire.OpValidateToken, wire.OpBiometrics:
	default:
		return enc.WriteUnknownOp(req.ID, req.Op)
	}

	if err := ValidateRequest(req); err != nil {
		return enc.WriteBadRequest(req.ID, req.Op, err.Error())
	}
	ip := wire.ClientAddress(req.IPAddress)

	switch req.Op {
	case wire.OpAuthenticate:
		if req.Username == "" {
			return enc.WriteBadRequest(req.ID, req.Op, "username is required")
		}
		result := h.auth.Login(ctx, models.LoginRequest{
			Username:  req.Username,
			Password:  req.Password,
			IPAddress: ip,
		})
		return enc.Write(resultResponse(req, result))

	case wire.OpVerifySecondFactor:
		if req.Token == "" || req.Code == "" {
			return enc.WriteBadRequest(req.ID, req.Op, "token and code are required")
		}
		result := h.auth.CompleteSecondFactor(ctx, req.Token, req.Code, ip)
		return enc.Write(resultResponse(req, result))

	case wire.OpLiveValidate:
		gen, scheduled := h.live.Submit(ctx, req.Username, req.Password, ip, func(res services.LiveResult) {
			resp := resultResponse(req, res.Result)
			if data, err := json.Marshal(liveData{
				Generation: res.Generation,
				AutoSubmit: h.autoSubmit.Load() && res.Result.Outcome == models.OutcomeAuthenticated,
			}); err == nil {
				resp.Data = data
			}
			if err := enc.Write(resp); err != nil {
				h.logger.Warn("failed to deliver live result", slog.Any("error", err))
			}
		})
		return enc.WriteData(req.ID, req.Op, liveAck{Generation: gen, Scheduled: scheduled})

	case wire.OpCancelLive:
		h.live.Cancel()
		return enc.Write(wire.Response{ID: req.ID, Op: req.Op, OK: true})

	case wire.OpCheckStrength:
		return enc.WriteData(req.ID, req.Op, pkgauth.CheckStrength(req.Password))

	case wire.OpValidateToken:
		username, ok := h.tokens.ValidateToken(ctx, req.Token)
		resp := wire.Response{ID: req.ID, Op: req.Op, OK: ok, Username: username}
		if !ok {
			resp.Message = models.MessageInvalidCredentials
		}
		return enc.Write(resp)

	case wire.OpBiometrics:
		return enc.WriteData(req.ID, req.Op, h.biometrics.Available(ctx))
	}
	return nil
}

// resultResponse maps an AuthResult onto the uniform host reply
func resultResponse(req wire.Request, result models.AuthResult) wire.Response {
	resp := wire.Response{
		ID:       req.ID,
		Op:       req.Op,
		OK:       result.Success(),
		Outcome:  string(result.Outcome),
		Message:  result.Message(),
		Token:    result.Token,
		Username: result.Username,
	}
	if result.Outcome == models.OutcomeRateLimited {
		resp.RetryAfter = result.RetryAfterSeconds()
	}
	return resp
}
