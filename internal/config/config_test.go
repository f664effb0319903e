package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsMirrorDisabled(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := NewFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := flags.Resolve()
	require.Nil(t, err)
	require.Empty(t, cfg.MirrorEndpoint)
	require.Equal(t, int64(64*1024), cfg.DefaultLimits.Values.MaxOutputBytes)
}

func TestResolveMirrorFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := NewFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-mirror-endpoint", "minio.local:9000",
		"-mirror-bucket", "artifacts",
		"-mirror-use-ssl=false",
	}))

	cfg, err := flags.Resolve()
	require.Nil(t, err)
	require.Equal(t, "minio.local:9000", cfg.MirrorEndpoint)
	require.Equal(t, "artifacts", cfg.MirrorBucket)
	require.False(t, cfg.MirrorUseSSL)
}

func TestParseAPIKeysFullEntry(t *testing.T) {
	keys, err := ParseAPIKeys("tok1:alice:5:20,tok2:bob")
	require.Nil(t, err)
	require.Len(t, keys, 2)

	require.Equal(t, "tok1", keys[0].Token)
	require.Equal(t, "alice", keys[0].Label)
	require.Equal(t, 5.0, keys[0].Limits.RatePerSec)
	require.Equal(t, 20.0, keys[0].Limits.Burst)

	require.Equal(t, "tok2", keys[1].Token)
	require.Equal(t, 0.0, keys[1].Limits.RatePerSec)
}

func TestParseAPIKeysEmpty(t *testing.T) {
	keys, err := ParseAPIKeys("")
	require.Nil(t, err)
	require.Nil(t, keys)
}

func TestParseAPIKeysRejectsMalformed(t *testing.T) {
	_, err := ParseAPIKeys("justtoken")
	require.NotNil(t, err)
}
