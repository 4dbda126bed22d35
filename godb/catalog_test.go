package godb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCatalogFile(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "catalog.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestCatalogParseAndLookup(t *testing.T) {
	dir := t.TempDir()
	catPath := writeCatalogFile(t, dir, "students (name string, age int)\n# a comment\ncourses (title string, credits int)\n")

	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)

	c := NewCatalog(catPath, bp, dir)
	require.NoError(t, c.parseCatalogFile())

	hf, err := c.GetTable("students")
	require.NoError(t, err)
	require.Len(t, hf.Descriptor().Fields, 2)
	require.Equal(t, "name", hf.Descriptor().Fields[0].Fname)
	require.Equal(t, StringType, hf.Descriptor().Fields[0].Ftype)

	name, err := c.GetTableName(0)
	require.NoError(t, err)
	require.Equal(t, "students", name)

	info, err := c.GetTableInfoDBFile(hf)
	require.NoError(t, err)
	require.Equal(t, 0, info.id)

	var seen []int
	next := c.TableIDIterator()
	for {
		id, ok := next()
		if !ok {
			break
		}
		seen = append(seen, id)
	}
	require.Equal(t, []int{0, 1}, seen)
}

func TestCatalogMissingFileIsNotAnError(t *testing.T) {
	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	c := NewCatalog(filepath.Join(t.TempDir(), "nope.txt"), bp, t.TempDir())
	require.NoError(t, c.parseCatalogFile())
	_, err = c.GetTable("anything")
	require.Error(t, err)
}
