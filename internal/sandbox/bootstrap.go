package sandbox

import (
	"fmt"

	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/limits"
)

// BootstrapSpec is the stdin wire format delivered to the sandbox's
// bootstrap process (spec §6): a single JSON object the child reads before
// running any user code. The host side (Container) marshals one of these
// per run; the bootstrap binary (cmd/bootstrap) unmarshals it.
type BootstrapSpec struct {
	ID     string            `json:"id"`
	Args   []string          `json:"args"`
	Env    map[string]string `json:"env"`
	Limits limits.Limits     `json:"limits"`
}

// LaunchArgv returns the argv the bootstrap uses to exec the language
// runtime against the materialized entry file, following the same
// os/exec-driven process-invocation idiom the teacher uses for every
// scripted language (internal/runner/execscript.go's bash -c launch),
// generalized across the closed language set instead of Python-only.
func LaunchArgv(lang execmodel.Language, entryFile string, args []string) ([]string, error) {
	var argv []string
	switch lang {
	case execmodel.LangPython:
		argv = append([]string{"python3", entryFile}, args...)
	case execmodel.LangNode:
		argv = append([]string{"node", entryFile}, args...)
	case execmodel.LangRuby:
		argv = append([]string{"ruby", entryFile}, args...)
	case execmodel.LangPHP:
		argv = append([]string{"php", entryFile}, args...)
	case execmodel.LangGo:
		// Go is compiled ahead of the launch step (CompileGoArgv); the argv
		// here runs the resulting binary, not the source file.
		argv = append([]string{"./" + goBinaryName}, args...)
	default:
		return nil, fmt.Errorf("no bootstrap launch defined for language %q", lang)
	}
	return argv, nil
}

// goBinaryName is the fixed name CompileGoArgv's build writes its output
// binary to, relative to the workdir, so LaunchArgv and CompileGoArgv agree without
// threading a path between them.
const goBinaryName = "main"

// CompileGoArgv returns the argv the bootstrap uses to build the staged Go
// source ahead of running it. Isolation flags (network, rootfs, caps) are
// not relaxed for this step; the spec's design notes are explicit that
// "go build" runs under the same confinement as the eventual exec, not as
// a privileged pre-pass (spec §9 design notes).
func CompileGoArgv(entryFile string) []string {
	return []string{"go", "build", "-o", goBinaryName, entryFile}
}
