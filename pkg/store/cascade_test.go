package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogkit/catalogd/pkg/catalog"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

// seedHierarchy builds a category with one subcategory, one item under
// the subcategory with an image, and one direct item without one.
func seedHierarchy(t *testing.T, s *Store, files uploads.FileStore) (cat *catalog.Category, sub *catalog.Subcategory, nested, direct *catalog.Item, imageName string) {
	t.Helper()
	ctx := context.Background()

	cat, err := s.CreateCategory(ctx, "Electronics")
	require.NoError(t, err)
	sub, err = s.CreateSubcategory(ctx, cat.ID, "Phones")
	require.NoError(t, err)

	nested = &catalog.Item{Name: "Pixel", CategoryID: cat.ID, SubcategoryID: &sub.ID}
	require.NoError(t, s.CreateItem(ctx, nested))
	direct = &catalog.Item{Name: "Charger", CategoryID: cat.ID}
	require.NoError(t, s.CreateItem(ctx, direct))

	imageName, err = files.Save(ctx, nested.ID, "pixel.jpg", strings.NewReader("img"))
	require.NoError(t, err)
	_, err = s.SetItemImage(ctx, nested.ID, imageName)
	require.NoError(t, err)
	return cat, sub, nested, direct, imageName
}

func TestDeleteCategoryCascades(t *testing.T) {
	dir := t.TempDir()
	files, err := uploads.NewFileSystemStore(dir)
	require.NoError(t, err)
	s := newTestStore(t, files)
	ctx := context.Background()

	cat, sub, nested, direct, imageName := seedHierarchy(t, s, files)

	require.NoError(t, s.DeleteCategory(ctx, cat.ID))

	// Every descendant is gone.
	_, err = s.GetCategory(ctx, cat.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = s.GetSubcategory(ctx, cat.ID, sub.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = s.GetItemByID(ctx, nested.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = s.GetItemByID(ctx, direct.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = s.GetItemImage(ctx, nested.ID)
	assert.True(t, catalog.IsNotFound(err))

	// The image file went with the rows.
	_, err = os.Stat(filepath.Join(dir, imageName))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteCategoryToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	files, err := uploads.NewFileSystemStore(dir)
	require.NoError(t, err)
	s := newTestStore(t, files)
	ctx := context.Background()

	cat, _, _, _, imageName := seedHierarchy(t, s, files)

	// Someone removed the file out of band; the cascade still succeeds.
	require.NoError(t, os.Remove(filepath.Join(dir, imageName)))
	assert.NoError(t, s.DeleteCategory(ctx, cat.ID))
}

func TestDeleteCategoryNotFound(t *testing.T) {
	s := newTestStore(t, nil)
	err := s.DeleteCategory(context.Background(), 404)
	assert.True(t, catalog.IsNotFound(err))
}

func TestDeleteSubcategorySparesDirectItems(t *testing.T) {
	dir := t.TempDir()
	files, err := uploads.NewFileSystemStore(dir)
	require.NoError(t, err)
	s := newTestStore(t, files)
	ctx := context.Background()

	cat, sub, nested, direct, imageName := seedHierarchy(t, s, files)

	require.NoError(t, s.DeleteSubcategory(ctx, sub.ID))

	// The subcategory and its item are gone, file included.
	_, err = s.GetSubcategory(ctx, cat.ID, sub.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = s.GetItemByID(ctx, nested.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = os.Stat(filepath.Join(dir, imageName))
	assert.True(t, os.IsNotExist(err))

	// The item attached directly to the category survives.
	got, err := s.GetItemByID(ctx, direct.ID)
	require.NoError(t, err)
	assert.Equal(t, "Charger", got.Name)

	// And the category itself is untouched.
	_, err = s.GetCategory(ctx, cat.ID)
	assert.NoError(t, err)
}

func TestDeleteSubcategoryNotFound(t *testing.T) {
	s := newTestStore(t, nil)
	err := s.DeleteSubcategory(context.Background(), 404)
	assert.True(t, catalog.IsNotFound(err))
}

func TestDeleteItemRemovesImage(t *testing.T) {
	dir := t.TempDir()
	files, err := uploads.NewFileSystemStore(dir)
	require.NoError(t, err)
	s := newTestStore(t, files)
	ctx := context.Background()

	_, _, nested, _, imageName := seedHierarchy(t, s, files)

	require.NoError(t, s.DeleteItem(ctx, nested.ID))

	_, err = s.GetItemByID(ctx, nested.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = s.GetItemImage(ctx, nested.ID)
	assert.True(t, catalog.IsNotFound(err))
	_, err = os.Stat(filepath.Join(dir, imageName))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteItemWithoutImage(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	cat, err := s.CreateCategory(ctx, "Electronics")
	require.NoError(t, err)
	item := &catalog.Item{Name: "Cable", CategoryID: cat.ID}
	require.NoError(t, s.CreateItem(ctx, item))

	assert.NoError(t, s.DeleteItem(ctx, item.ID))
	err = s.DeleteItem(ctx, item.ID)
	assert.True(t, catalog.IsNotFound(err))
}
