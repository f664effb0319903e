package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgerun/execgw/internal/execmodel"
)

func TestLaunchArgvPerLanguage(t *testing.T) {
	argv, err := LaunchArgv(execmodel.LangPython, "main.py", []string{"a"})
	require.NoError(t, err)
	require.Equal(t, []string{"python3", "main.py", "a"}, argv)

	argv, err = LaunchArgv(execmodel.LangGo, "main.go", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"./main"}, argv)
}

func TestLaunchArgvRejectsUnknownLanguage(t *testing.T) {
	_, err := LaunchArgv(execmodel.Language("rust"), "main.rs", nil)
	require.Error(t, err)
}

func TestCompileGoArgvUsesFixedOutputName(t *testing.T) {
	argv := CompileGoArgv("main.go")
	require.Equal(t, []string{"go", "build", "-o", "main", "main.go"}, argv)
}

func TestMockRunReturnsCannedResult(t *testing.T) {
	m := MockSucceeding("hello\n")
	res, err := m.Run(context.Background(), Spec{RunID: "run_x"}, nil)
	require.NoError(t, err)
	require.Equal(t, execmodel.StatusSucceeded, res.Status)
	require.Equal(t, "hello\n", string(res.Stdout))
	require.Len(t, m.Calls, 1)
}

func TestMockRunUsesScriptWhenSet(t *testing.T) {
	called := false
	m := &Mock{
		Script: func(ctx context.Context, spec Spec, sink Sink) (Result, error) {
			called = true
			return Result{Status: execmodel.StatusFailed}, nil
		},
	}
	res, err := m.Run(context.Background(), Spec{}, nil)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, execmodel.StatusFailed, res.Status)
}

func TestWriteCandidateFileIsListedByListCandidates(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteCandidateFile(dir, "out.txt", []byte("data"))
	require.NoError(t, err)
	require.FileExists(t, path)

	candidates := listCandidates(dir + "/outputs")
	require.Contains(t, candidates, path)
}

func TestMergeUsagePrefersFile(t *testing.T) {
	fromFile := execmodel.Usage{WallMS: 10, CPUMS: 5, PeakRSSMiB: 1}
	fromSampler := execmodel.Usage{WallMS: 99, CPUMS: 99, PeakRSSMiB: 99}
	require.Equal(t, fromFile, mergeUsage(fromFile, fromSampler))
	require.Equal(t, fromSampler, mergeUsage(execmodel.Usage{}, fromSampler))
}
