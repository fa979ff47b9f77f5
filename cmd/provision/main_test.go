package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ruteri/token-provisioner/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"generic", errors.New("boom"), exitGeneric},
		{"insufficient", &interfaces.StepError{Step: interfaces.StepCreateMint, Err: &interfaces.InsufficientResourcesError{Balance: 1, Required: 2}}, exitInsufficient},
		{"network", &interfaces.StepError{Step: interfaces.StepIssueSupply, Err: fmt.Errorf("getBalance: %w", interfaces.ErrNetwork)}, exitTransient},
		{"rate limited funding", &interfaces.StepError{Step: interfaces.StepCreateMint, Err: fmt.Errorf("fund failed: %w", interfaces.ErrRateLimited)}, exitTransient},
		{"rejected", &interfaces.StepError{Step: interfaces.StepCreateMint, Err: &interfaces.RemoteRejectedError{Op: "create-token", Diagnostic: "nope"}}, exitRejected},
		{"unsupported", fmt.Errorf("fund failed: %w", interfaces.ErrUnsupportedOnNetwork), exitInvalid},
		{"invalid", fmt.Errorf("%w: symbol not set", interfaces.ErrInvalidParams), exitInvalid},
		{"locked", interfaces.ErrStateLocked, exitLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
