package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetCurrentVersion(t *testing.T) {
	require.Equal(t, DevVersion, GetCurrentVersion("dev"))
	require.Equal(t, DevVersion, GetCurrentVersion("demo"))
	require.Equal(t, Version, GetCurrentVersion("prod"))
}

func TestIsVersionGreaterThan(t *testing.T) {
	require.True(t, IsVersionGreaterThan("0.2.0", "0.1.0"))
	require.False(t, IsVersionGreaterThan("0.1.0", "0.1.0"))
	require.False(t, IsVersionGreaterThan("0.1.0", "0.2.0"))
}
