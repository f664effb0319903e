package defense

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateStagePathRejectsAbsolute(t *testing.T) {
	require.NotNil(t, ValidateStagePath("/etc/passwd"))
}

func TestValidateStagePathRejectsDotDot(t *testing.T) {
	require.NotNil(t, ValidateStagePath("../escape"))
	require.NotNil(t, ValidateStagePath("dataset/../../escape"))
}

func TestValidateStagePathAcceptsRelative(t *testing.T) {
	require.Nil(t, ValidateStagePath("dataset/input.txt"))
}

func TestValidateStagePathAcceptsDotDotThatStaysWithinInputs(t *testing.T) {
	// "sub/../dataset/input.txt" lexically cancels out to
	// "dataset/input.txt", which never leaves the inputs/ root, so this
	// must be accepted even though the raw string contains "..".
	require.Nil(t, ValidateStagePath("sub/../dataset/input.txt"))
}

func TestSanitizeEnvDropsLDPrefixed(t *testing.T) {
	in := map[string]string{
		"LD_PRELOAD":     "/evil.so",
		"ld_library_path": "/evil",
		"MY_VAR":         "ok",
	}
	out := SanitizeEnv(in)

	_, hasPreload := out["LD_PRELOAD"]
	require.False(t, hasPreload)
	_, hasLower := out["ld_library_path"]
	require.False(t, hasLower)
	require.Equal(t, "ok", out["MY_VAR"])
	require.Equal(t, "/work", out["HOME"])
	require.Equal(t, "/work/tmp", out["TMPDIR"])
}

func TestSanitizeEnvAlwaysHasHomeAndTmpdir(t *testing.T) {
	out := SanitizeEnv(nil)
	require.Equal(t, "/work", out["HOME"])
	require.Equal(t, "/work/tmp", out["TMPDIR"])
}

func TestSanitizeEnvRejectsUserOverrideOfHomeAndTmpdir(t *testing.T) {
	in := map[string]string{
		"HOME":   "/home/attacker",
		"TMPDIR": "/tmp/attacker",
	}
	out := SanitizeEnv(in)
	require.Equal(t, "/work", out["HOME"])
	require.Equal(t, "/work/tmp", out["TMPDIR"])
}
