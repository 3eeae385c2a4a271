package runtime

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFilesPresent(t *testing.T) {
	script, err := ReadReloadScript()
	require.NoError(t, err)
	assert.Contains(t, string(script), "/__stagehand/ws")

	exists, err := afero.Exists(Afero(), Shell)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAferoIsReadOnlyView(t *testing.T) {
	fs := Afero()
	_, err := fs.Create("new.txt")
	assert.Error(t, err)
}
