package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"orderbroker/internal/catalog"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := catalog.Default()
	require.Greater(t, c.Len(), 5)

	cat, ok := c.Get(7)
	require.True(t, ok)
	require.Equal(t, "electronics", cat.Slug)

	list := c.List()
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	data := `
categories:
  - id: 20
    slug: boats
    name: Boats
    keywords: [hull, sail]
  - id: 21
    slug: sails
    name: Sails
    parentId: 20
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := catalog.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	require.True(t, c.Contains(21))
	require.False(t, c.Contains(7))

	sails, _ := c.Get(21)
	require.Equal(t, int64(20), *sails.ParentID)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	c, err := catalog.Load("")
	require.NoError(t, err)
	require.Equal(t, catalog.Default().Len(), c.Len())
}

func TestNewRejectsDuplicatesAndUnknownParents(t *testing.T) {
	_, err := catalog.New([]catalog.Category{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}})
	require.Error(t, err)

	parent := int64(99)
	_, err = catalog.New([]catalog.Category{{ID: 1, Name: "A", ParentID: &parent}})
	require.Error(t, err)
}
