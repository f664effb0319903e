package orchestrator

import (
	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/sandbox"
)

// classify applies spec §4.4 step 9: the sandbox's reported status is
// trusted as-is, except a reported "succeeded" paired with a nonzero exit
// code is overridden to "failed". timeout/oom/killed are always the
// sandbox's call to make (spec §4.5).
func classify(result sandbox.Result) (execmodel.Status, *int) {
	status := result.Status
	if status == execmodel.StatusSucceeded && result.ExitCode != nil && *result.ExitCode != 0 {
		status = execmodel.StatusFailed
	}
	return status, result.ExitCode
}
