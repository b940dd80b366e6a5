package pipeline

import (
	"fmt"

	"github.com/Fantasim/btcwalletsync/internal/pipeline/phases"
)

// PipelineError wraps a phase failure with enough of the run's state to
// diagnose it: which phase failed, what already completed, and a snapshot
// of the Context at the moment of failure (§4.2 step 6).
type PipelineError struct {
	WalletID        string
	FailedPhase     string
	CompletedPhases []string
	ContextSnapshot *phases.Context
	Err             error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("sync pipeline: wallet %s failed at phase %q after completing %v: %v",
		e.WalletID, e.FailedPhase, e.CompletedPhases, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
