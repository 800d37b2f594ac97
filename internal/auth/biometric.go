package auth

import (
	"context"
	"os/exec"
	"time"
)

// BiometricStatus reports which biometric helpers are present on the host.
// It is a capability probe only; nothing is authenticated.
type BiometricStatus struct {
	Fingerprint     bool `json:"fingerprint"`
	FaceRecognition bool `json:"face_recognition"`
}

// BiometricProber checks for fprintd (fingerprint) and howdy (face)
type BiometricProber struct {
	run      func(ctx context.Context, name string, args ...string) error
	lookPath func(file string) (string, error)
	timeout  time.Duration
}

func NewBiometricProber() *BiometricProber {
	return &BiometricProber{
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		lookPath: exec.LookPath,
		timeout:  5 * time.Second,
	}
}

// Available runs the probes. A probe that fails or times out reports false.
func (p *BiometricProber) Available(ctx context.Context) BiometricStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var status BiometricStatus
	// systemctl exits 0 only when the unit is active
	if err := p.run(ctx, "systemctl", "is-active", "--quiet", "fprintd"); err == nil {
		status.Fingerprint = true
	}
	if _, err := p.lookPath("howdy"); err == nil {
		status.FaceRecognition = true
	}
	return status
}
