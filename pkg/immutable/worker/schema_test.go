package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshStoreIsStamped(t *testing.T) {
	s := openStore(t)

	schema, err := s.Schema()
	require.NoError(t, err)
	require.NotNil(t, schema)
	assert.Equal(t, CurrentSchemaVersion, schema.Version)
}

func TestOutdatedStoreIsReset(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Put("aaaaaa", "/a.js", "", "text/javascript", []byte("a()"))
	require.NoError(t, err)
	require.NoError(t, s.setSchema(0))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	gens, err := s.Generations()
	require.NoError(t, err)
	assert.Empty(t, gens)
	schema, err := s.Schema()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, schema.Version)
}

func TestNewerStoreIsRefused(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.setSchema(CurrentSchemaVersion+1))
	require.NoError(t, s.Close())

	_, err = Open(dir)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}
