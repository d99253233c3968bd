package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/config"
)

func TestNew_SelectsSQLBackend(t *testing.T) {
	store, err := New(config.ArchiveConfig{
		Enabled: true,
		Driver:  "SQLite", // driver names are case-insensitive
		Name:    ":memory:",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok := store.(*SQLStore)
	assert.True(t, ok)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(config.ArchiveConfig{Driver: "dynamo"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive driver")
}

func TestOpenMongo_RequiresURI(t *testing.T) {
	_, err := OpenMongo(config.ArchiveConfig{Driver: DriverMongo}, zap.NewNop())
	assert.Error(t, err)
}
