package limits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testPolicy(t *testing.T) *Policy {
	p, err := New(
		Defaults{Values: Limits{WallMS: 10_000, MemoryMiB: 256, CPUMS: 10_000, MaxOutputBytes: 64 * 1024, MaxArtifactByte: 16 * 1024 * 1024, MaxArtifactFile: 20}},
		Maximums{Values: Limits{WallMS: 60_000, MemoryMiB: 1024, CPUMS: 60_000, MaxOutputBytes: 1024 * 1024, MaxArtifactByte: 64 * 1024 * 1024, MaxArtifactFile: 100}},
	)
	require.Nil(t, err)
	return p
}

func TestMergeEmptyReturnsDefaults(t *testing.T) {
	p := testPolicy(t)
	eff, err := p.Merge(Partial{})
	require.Nil(t, err)
	require.Equal(t, p.Defaults(), eff)
}

func TestMergeIdempotent(t *testing.T) {
	p := testPolicy(t)
	wall := int64(5_000)
	eff, err := p.Merge(Partial{WallMS: &wall})
	require.Nil(t, err)

	eff2, err := p.Merge(Partial{
		WallMS:          &eff.WallMS,
		MemoryMiB:       &eff.MemoryMiB,
		CPUMS:           &eff.CPUMS,
		MaxOutputBytes:  &eff.MaxOutputBytes,
		MaxArtifactByte: &eff.MaxArtifactByte,
		MaxArtifactFile: &eff.MaxArtifactFile,
	})
	require.Nil(t, err)
	require.Equal(t, eff, eff2)
}

func TestMergeRejectsAboveMax(t *testing.T) {
	p := testPolicy(t)
	tooMuch := int64(100_000)
	_, err := p.Merge(Partial{WallMS: &tooMuch})
	require.NotNil(t, err)
}

func TestMergeRejectsZeroOrNegative(t *testing.T) {
	p := testPolicy(t)
	zero := int64(0)
	_, err := p.Merge(Partial{MemoryMiB: &zero})
	require.NotNil(t, err)

	neg := int64(-5)
	_, err = p.Merge(Partial{CPUMS: &neg})
	require.NotNil(t, err)
}

func TestMergeLowerIsAccepted(t *testing.T) {
	p := testPolicy(t)
	lower := int64(1_000)
	eff, err := p.Merge(Partial{WallMS: &lower})
	require.Nil(t, err)
	require.Equal(t, lower, eff.WallMS)
}

func TestNewRejectsInvalidDefaults(t *testing.T) {
	_, err := New(
		Defaults{Values: Limits{WallMS: 100, MemoryMiB: 256, CPUMS: 10_000, MaxOutputBytes: 64 * 1024, MaxArtifactByte: 16 * 1024 * 1024, MaxArtifactFile: 20}},
		Maximums{Values: Limits{WallMS: 60, MemoryMiB: 1024, CPUMS: 60_000, MaxOutputBytes: 1024 * 1024, MaxArtifactByte: 64 * 1024 * 1024, MaxArtifactFile: 100}},
	)
	require.NotNil(t, err)
}
