package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/catalogkit/catalogd/pkg/catalog"
)

// Cascading deletes. Each delete runs as a single transaction so a
// failure partway leaves no partially-deleted hierarchy; image files are
// removed only after the transaction commits, and a file already missing
// from the upload store is tolerated.

// DeleteCategory removes a category and everything transitively beneath
// it: subcategories, items (with or without a subcategory), image rows,
// and the backing files.
func (s *Store) DeleteCategory(ctx context.Context, categoryID int64) (err error) {
	defer s.observe("delete_category", time.Now(), err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	filenames, err := s.imageFilenamesTx(ctx, tx,
		`SELECT img.filename FROM item_images img
		 JOIN items i ON i.id = img.item_id
		 WHERE i.category_id = ?`, categoryID)
	if err != nil {
		return err
	}

	counts := make(map[string]int64, 4)
	steps := []struct {
		entity string
		query  string
	}{
		{"item_image", `DELETE FROM item_images WHERE item_id IN (SELECT id FROM items WHERE category_id = ?)`},
		{"item", `DELETE FROM items WHERE category_id = ?`},
		{"subcategory", `DELETE FROM subcategories WHERE category_id = ?`},
		{"category", `DELETE FROM categories WHERE id = ?`},
	}
	for _, step := range steps {
		res, execErr := tx.ExecContext(ctx, s.q(step.query), categoryID)
		if execErr != nil {
			return fmt.Errorf("failed to delete %s rows: %w", step.entity, execErr)
		}
		counts[step.entity], _ = res.RowsAffected()
	}

	if counts["category"] == 0 {
		return &catalog.NotFoundError{Kind: catalog.KindCategory, ID: categoryID}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cascade: %w", err)
	}

	s.categories.invalidate(categoryID)
	s.recordCascade(counts)
	for _, name := range filenames {
		s.removeFile(ctx, name)
	}

	s.logger.WithFields(map[string]interface{}{
		"category_id":   categoryID,
		"subcategories": counts["subcategory"],
		"items":         counts["item"],
		"images":        counts["item_image"],
	}).Info("category deleted")
	return nil
}

// DeleteSubcategory removes a subcategory and the items under it. Items
// directly under the parent category with no subcategory are untouched.
func (s *Store) DeleteSubcategory(ctx context.Context, subcategoryID int64) (err error) {
	defer s.observe("delete_subcategory", time.Now(), err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	filenames, err := s.imageFilenamesTx(ctx, tx,
		`SELECT img.filename FROM item_images img
		 JOIN items i ON i.id = img.item_id
		 WHERE i.subcategory_id = ?`, subcategoryID)
	if err != nil {
		return err
	}

	counts := make(map[string]int64, 3)
	steps := []struct {
		entity string
		query  string
	}{
		{"item_image", `DELETE FROM item_images WHERE item_id IN (SELECT id FROM items WHERE subcategory_id = ?)`},
		{"item", `DELETE FROM items WHERE subcategory_id = ?`},
		{"subcategory", `DELETE FROM subcategories WHERE id = ?`},
	}
	for _, step := range steps {
		res, execErr := tx.ExecContext(ctx, s.q(step.query), subcategoryID)
		if execErr != nil {
			return fmt.Errorf("failed to delete %s rows: %w", step.entity, execErr)
		}
		counts[step.entity], _ = res.RowsAffected()
	}

	if counts["subcategory"] == 0 {
		return &catalog.NotFoundError{Kind: catalog.KindSubcategory, ID: subcategoryID}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cascade: %w", err)
	}

	s.recordCascade(counts)
	for _, name := range filenames {
		s.removeFile(ctx, name)
	}

	s.logger.WithFields(map[string]interface{}{
		"subcategory_id": subcategoryID,
		"items":          counts["item"],
		"images":         counts["item_image"],
	}).Info("subcategory deleted")
	return nil
}

// DeleteItem removes one item, its image row, and the backing file.
func (s *Store) DeleteItem(ctx context.Context, itemID int64) (err error) {
	defer s.observe("delete_item", time.Now(), err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	filenames, err := s.imageFilenamesTx(ctx, tx,
		`SELECT filename FROM item_images WHERE item_id = ?`, itemID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM item_images WHERE item_id = ?`), itemID); err != nil {
		return fmt.Errorf("failed to delete image row: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM items WHERE id = ?`), itemID)
	if err != nil {
		return fmt.Errorf("failed to delete item row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &catalog.NotFoundError{Kind: catalog.KindItem, ID: itemID}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cascade: %w", err)
	}

	s.recordCascade(map[string]int64{"item": 1, "item_image": int64(len(filenames))})
	for _, name := range filenames {
		s.removeFile(ctx, name)
	}
	return nil
}

func (s *Store) imageFilenamesTx(ctx context.Context, tx *sql.Tx, query string, arg int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, s.q(query), arg)
	if err != nil {
		return nil, fmt.Errorf("failed to collect image filenames: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan filename: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) recordCascade(counts map[string]int64) {
	if s.metrics == nil {
		return
	}
	for entity, n := range counts {
		if n > 0 {
			s.metrics.CascadeDeletesTotal.WithLabelValues(entity).Add(float64(n))
		}
	}
}
