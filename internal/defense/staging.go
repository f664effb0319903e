package defense

import (
	"path/filepath"
	"strings"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/forgerun/execgw/internal/apierr"
)

// stagingRoot is the sandbox directory every staged file must land under
// (spec §4.4 step 5, §3 invariants). It is a fixed path at the filesystem
// root standing in for a run's own workdir/inputs, not a parameter, because
// the gateway only ever stages into one place; the check below is made
// against this stand-in, never against the real workdir.
const stagingRoot = string(filepath.Separator) + "inputs"

// ValidateStagePath rejects a requested file-staging destination that is
// absolute or that escapes the sandbox's inputs/ directory (spec §4.4,
// §8). Escaping is checked by resolving destPath against stagingRoot and
// confirming the result still lives under it. Symlinks are resolved only
// under stagingRoot itself; symlinks inside the run's actual workdir are
// not consulted.
func ValidateStagePath(destPath string) (err error) {
	if filepath.IsAbs(destPath) {
		return apierr.New(apierr.Validation, kv.NewError("destination path must not be absolute").With("path", destPath, "stack", stack.Trace().TrimRuntime()))
	}

	escapes, kvErr := escapesStagingRoot(destPath)
	if kvErr != nil {
		return apierr.New(apierr.Validation, kvErr)
	}
	if escapes {
		return apierr.New(apierr.Validation, kv.NewError("destination path escapes inputs directory").With("path", destPath, "stack", stack.Trace().TrimRuntime()))
	}
	return nil
}

// escapesStagingRoot reports whether destPath, once joined to stagingRoot
// and resolved through any symlinks, lands outside stagingRoot. A
// destination that doesn't exist yet (the common case: it is about to be
// created by the staging copy) falls back to a plain lexical clean, since
// there is nothing on disk yet for EvalSymlinks to resolve.
func escapesStagingRoot(destPath string) (escapes bool, err kv.Error) {
	joined := filepath.Join(stagingRoot, destPath)

	resolved, errGo := filepath.EvalSymlinks(joined)
	if errGo != nil {
		resolved = filepath.Clean(joined)
	}

	rel, errGo := filepath.Rel(stagingRoot, resolved)
	if errGo != nil {
		return true, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
