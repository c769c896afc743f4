package runner

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestKindError(t *testing.T) {
	tests := []struct {
		kind     domain.StepKind
		expected error
	}{
		{kind: domain.StepKindToolchain, expected: ErrToolchainInstall},
		{kind: domain.StepKindCache, expected: ErrCacheMiss},
		{kind: domain.StepKindToolInstall, expected: ErrToolInstall},
		{kind: domain.StepKindCheckout, expected: ErrCheckout},
		{kind: domain.StepKindBuild, expected: ErrBuild},
		{kind: domain.StepKindAudit, expected: ErrAuditFinding},
		{kind: domain.StepKindCommand, expected: ErrStepFailed},
		{kind: "unknown", expected: ErrStepFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := KindError(tt.kind); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestStepError(t *testing.T) {
	err := &StepError{StepID: "audit", Kind: domain.StepKindAudit, ExitCode: 1, Err: ErrAuditFinding}

	if err.Error() != "step audit: audit reported findings (exit code 1)" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrAuditFinding) {
		t.Error("StepError should unwrap to its category")
	}

	notRun := &StepError{StepID: "checkout", ExitCode: domain.ExitCodeNotRun, Err: ErrCheckout}
	if notRun.Error() != "step checkout: checkout failed" {
		t.Errorf("unexpected message %q", notRun.Error())
	}
}

func TestFailureOf(t *testing.T) {
	if FailureOf(nil) != nil {
		t.Error("nil run has no failure")
	}

	succeeded := domain.NewRun("p", "ubuntu-latest", domain.Event{})
	succeeded.MarkRunning()
	succeeded.MarkSucceeded()
	if FailureOf(succeeded) != nil {
		t.Error("succeeded run has no failure")
	}

	// Run, загруженный из хранилища: категория восстанавливается по FailureKind
	failed := domain.NewRun("p", "ubuntu-latest", domain.Event{})
	failed.MarkRunning()
	failed.AddStepResult(domain.StepResult{StepID: "build", Kind: domain.StepKindBuild, Status: domain.StepStatusFailed, ExitCode: 101, Output: "error[E0308]"})
	failed.MarkFailed(domain.Step{ID: "build", Kind: domain.StepKindBuild}, "build failed")

	err := FailureOf(failed)
	if !errors.Is(err, ErrBuild) {
		t.Errorf("expected ErrBuild, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.ExitCode != 101 || stepErr.Output != "error[E0308]" {
		t.Errorf("unexpected step error %+v", stepErr)
	}
}
