// Package store implements the catalog store: typed accessors over the
// category/subcategory/item/image hierarchy and the user table, plus the
// cascading delete paths. It runs on sqlite3 or postgres behind
// database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/catalogkit/catalogd/pkg/catalog"
	"github.com/catalogkit/catalogd/pkg/observability"
)

// FileRemover removes a named upload artifact. The cascade paths use it
// to clean up image files alongside rows.
type FileRemover interface {
	Remove(ctx context.Context, filename string) error
}

// Store provides typed access to the catalog database.
type Store struct {
	db         *sql.DB
	driver     string
	files      FileRemover
	logger     *observability.Logger
	metrics    *observability.Metrics
	categories *categoryCache
	loads      singleflight.Group
}

// New creates a store over an open database handle. files may be nil when
// no upload store is configured; cascade deletes then skip file cleanup.
func New(db *sql.DB, driver string, files FileRemover, logger *observability.Logger, metrics *observability.Metrics) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	cache, err := newCategoryCache(categoryCacheSize, metrics)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:         db,
		driver:     driver,
		files:      files,
		logger:     logger,
		metrics:    metrics,
		categories: cache,
	}, nil
}

// DB exposes the underlying handle for session storage sharing the same
// database.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the active driver name.
func (s *Store) Driver() string { return s.driver }

func (s *Store) q(query string) string {
	return Rebind(s.driver, query)
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStoreOperation(operation, start, err)
	}
}

// --- Categories ---

// CreateCategory inserts a category with the given non-empty name.
func (s *Store) CreateCategory(ctx context.Context, name string) (c *catalog.Category, err error) {
	defer s.observe("create_category", time.Now(), err)
	if name == "" {
		return nil, &catalog.IntegrityError{Field: "name", Reason: "must not be empty"}
	}

	id, err := s.insert(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &catalog.Category{ID: id, Name: name}, nil
}

// GetCategory resolves a category id, consulting the read cache first.
// Concurrent misses for the same id collapse into one database read.
func (s *Store) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	if c, ok := s.categories.get(id); ok {
		return c, nil
	}

	v, err, _ := s.loads.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		var c catalog.Category
		err := s.db.QueryRowContext(ctx, s.q(`SELECT id, name FROM categories WHERE id = ?`), id).
			Scan(&c.ID, &c.Name)
		if err == sql.ErrNoRows {
			return nil, &catalog.NotFoundError{Kind: catalog.KindCategory, ID: id}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get category: %w", err)
		}
		s.categories.put(&c)
		return &c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*catalog.Category), nil
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]*catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Category
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateCategory renames a category.
func (s *Store) UpdateCategory(ctx context.Context, id int64, name string) (err error) {
	defer s.observe("update_category", time.Now(), err)
	if name == "" {
		return &catalog.IntegrityError{Field: "name", Reason: "must not be empty"}
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE categories SET name = ? WHERE id = ?`), name, id)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &catalog.NotFoundError{Kind: catalog.KindCategory, ID: id}
	}
	s.categories.invalidate(id)
	return nil
}

// --- Subcategories ---

// CreateSubcategory inserts a subcategory under an existing category.
func (s *Store) CreateSubcategory(ctx context.Context, categoryID int64, name string) (sc *catalog.Subcategory, err error) {
	defer s.observe("create_subcategory", time.Now(), err)
	if name == "" {
		return nil, &catalog.IntegrityError{Field: "name", Reason: "must not be empty"}
	}
	if _, err := s.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}

	id, err := s.insert(ctx, `INSERT INTO subcategories (name, category_id) VALUES (?, ?)`, name, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to create subcategory: %w", err)
	}
	return &catalog.Subcategory{ID: id, Name: name, CategoryID: categoryID}, nil
}

// GetSubcategory resolves a subcategory id scoped to its parent category.
// A structurally valid id belonging to a different category is not found.
func (s *Store) GetSubcategory(ctx context.Context, categoryID, id int64) (*catalog.Subcategory, error) {
	var sc catalog.Subcategory
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, name, category_id FROM subcategories WHERE id = ? AND category_id = ?`),
		id, categoryID).
		Scan(&sc.ID, &sc.Name, &sc.CategoryID)
	if err == sql.ErrNoRows {
		return nil, &catalog.NotFoundError{Kind: catalog.KindSubcategory, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subcategory: %w", err)
	}
	return &sc, nil
}

// ListSubcategories returns a category's subcategories ordered by name.
func (s *Store) ListSubcategories(ctx context.Context, categoryID int64) ([]*catalog.Subcategory, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, name, category_id FROM subcategories WHERE category_id = ? ORDER BY name ASC`),
		categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subcategories: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Subcategory
	for rows.Next() {
		var sc catalog.Subcategory
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.CategoryID); err != nil {
			return nil, fmt.Errorf("failed to scan subcategory: %w", err)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

// UpdateSubcategory renames a subcategory within its category.
func (s *Store) UpdateSubcategory(ctx context.Context, categoryID, id int64, name string) (err error) {
	defer s.observe("update_subcategory", time.Now(), err)
	if name == "" {
		return &catalog.IntegrityError{Field: "name", Reason: "must not be empty"}
	}

	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE subcategories SET name = ? WHERE id = ? AND category_id = ?`),
		name, id, categoryID)
	if err != nil {
		return fmt.Errorf("failed to update subcategory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &catalog.NotFoundError{Kind: catalog.KindSubcategory, ID: id}
	}
	return nil
}

// --- Items ---

// CreateItem inserts an item. The optional subcategory must belong to the
// item's category; a cross-category reference is rejected before commit.
func (s *Store) CreateItem(ctx context.Context, item *catalog.Item) (err error) {
	defer s.observe("create_item", time.Now(), err)
	if item.Name == "" {
		return &catalog.IntegrityError{Field: "name", Reason: "must not be empty"}
	}
	if _, err := s.GetCategory(ctx, item.CategoryID); err != nil {
		return err
	}
	if err := s.checkSubcategoryScope(ctx, item.CategoryID, item.SubcategoryID); err != nil {
		return err
	}

	now := time.Now().UTC()
	item.Added = now
	item.Updated = now

	id, err := s.insert(ctx,
		`INSERT INTO items (name, description, category_id, subcategory_id, added, updated) VALUES (?, ?, ?, ?, ?, ?)`,
		item.Name, item.Description, item.CategoryID, nullableID(item.SubcategoryID), item.Added, item.Updated)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	item.ID = id
	return nil
}

// GetItem resolves an item id scoped to its category.
func (s *Store) GetItem(ctx context.Context, categoryID, id int64) (*catalog.Item, error) {
	var (
		item  catalog.Item
		subID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, name, description, category_id, subcategory_id, added, updated
		     FROM items WHERE id = ? AND category_id = ?`),
		id, categoryID).
		Scan(&item.ID, &item.Name, &item.Description, &item.CategoryID, &subID, &item.Added, &item.Updated)
	if err == sql.ErrNoRows {
		return nil, &catalog.NotFoundError{Kind: catalog.KindItem, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if subID.Valid {
		item.SubcategoryID = &subID.Int64
	}
	return &item, nil
}

// GetItemByID resolves an item without category scoping. Used by cleanup
// paths that start from the item id alone.
func (s *Store) GetItemByID(ctx context.Context, id int64) (*catalog.Item, error) {
	var (
		item  catalog.Item
		subID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, name, description, category_id, subcategory_id, added, updated FROM items WHERE id = ?`),
		id).
		Scan(&item.ID, &item.Name, &item.Description, &item.CategoryID, &subID, &item.Added, &item.Updated)
	if err == sql.ErrNoRows {
		return nil, &catalog.NotFoundError{Kind: catalog.KindItem, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if subID.Valid {
		item.SubcategoryID = &subID.Int64
	}
	return &item, nil
}

// ListItems returns a category's items, newest update first.
func (s *Store) ListItems(ctx context.Context, categoryID int64) ([]*catalog.Item, error) {
	return s.listItems(ctx,
		s.q(`SELECT id, name, description, category_id, subcategory_id, added, updated
		     FROM items WHERE category_id = ? ORDER BY updated DESC`),
		categoryID)
}

// ListItemsBySubcategory returns the items under one subcategory.
func (s *Store) ListItemsBySubcategory(ctx context.Context, subcategoryID int64) ([]*catalog.Item, error) {
	return s.listItems(ctx,
		s.q(`SELECT id, name, description, category_id, subcategory_id, added, updated
		     FROM items WHERE subcategory_id = ? ORDER BY updated DESC`),
		subcategoryID)
}

func (s *Store) listItems(ctx context.Context, query string, arg int64) ([]*catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Item
	for rows.Next() {
		var (
			item  catalog.Item
			subID sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CategoryID, &subID, &item.Added, &item.Updated); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if subID.Valid {
			item.SubcategoryID = &subID.Int64
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// UpdateItem applies name/description/subcategory changes. The
// cross-category invariant is enforced on every mutation, not just
// creation.
func (s *Store) UpdateItem(ctx context.Context, item *catalog.Item) (err error) {
	defer s.observe("update_item", time.Now(), err)
	if item.Name == "" {
		return &catalog.IntegrityError{Field: "name", Reason: "must not be empty"}
	}
	if err := s.checkSubcategoryScope(ctx, item.CategoryID, item.SubcategoryID); err != nil {
		return err
	}

	item.Updated = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE items SET name = ?, description = ?, subcategory_id = ?, updated = ? WHERE id = ? AND category_id = ?`),
		item.Name, item.Description, nullableID(item.SubcategoryID), item.Updated, item.ID, item.CategoryID)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &catalog.NotFoundError{Kind: catalog.KindItem, ID: item.ID}
	}
	return nil
}

// checkSubcategoryScope rejects a subcategory reference that belongs to a
// different category.
func (s *Store) checkSubcategoryScope(ctx context.Context, categoryID int64, subcategoryID *int64) error {
	if subcategoryID == nil {
		return nil
	}
	var owner int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT category_id FROM subcategories WHERE id = ?`), *subcategoryID).
		Scan(&owner)
	if err == sql.ErrNoRows {
		return &catalog.NotFoundError{Kind: catalog.KindSubcategory, ID: *subcategoryID}
	}
	if err != nil {
		return fmt.Errorf("failed to check subcategory: %w", err)
	}
	if owner != categoryID {
		return catalog.ErrCrossCategoryReference(*subcategoryID)
	}
	return nil
}

// --- Item images ---

// GetItemImage returns the image record for an item, if any.
func (s *Store) GetItemImage(ctx context.Context, itemID int64) (*catalog.ItemImage, error) {
	var img catalog.ItemImage
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, item_id, filename FROM item_images WHERE item_id = ?`), itemID).
		Scan(&img.ID, &img.ItemID, &img.Filename)
	if err == sql.ErrNoRows {
		return nil, &catalog.NotFoundError{Kind: catalog.KindItemImage, ID: itemID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item image: %w", err)
	}
	return &img, nil
}

// SetItemImage records the single image an item owns. Any previous image
// row and its backing file are removed first, so at most one image exists
// per item at any time.
func (s *Store) SetItemImage(ctx context.Context, itemID int64, filename string) (img *catalog.ItemImage, err error) {
	defer s.observe("set_item_image", time.Now(), err)

	old, err := s.GetItemImage(ctx, itemID)
	if err != nil && !catalog.IsNotFound(err) {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM item_images WHERE item_id = ?`), itemID); err != nil {
		return nil, fmt.Errorf("failed to remove previous image row: %w", err)
	}
	id, err := s.insertTx(ctx, tx, `INSERT INTO item_images (item_id, filename) VALUES (?, ?)`, itemID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to insert image row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit image replacement: %w", err)
	}

	if old != nil && old.Filename != filename {
		s.removeFile(ctx, old.Filename)
	}
	return &catalog.ItemImage{ID: id, ItemID: itemID, Filename: filename}, nil
}

// ListImageFilenames returns every filename referenced by an image row.
// The janitor uses it to detect orphaned files in the upload store.
func (s *Store) ListImageFilenames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM item_images`)
	if err != nil {
		return nil, fmt.Errorf("failed to list image filenames: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan filename: %w", err)
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

// --- Users ---

// GetUserByEmail looks up a user by unique email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*catalog.User, error) {
	var u catalog.User
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, name, email, picture FROM users WHERE email = ?`), email).
		Scan(&u.ID, &u.Name, &u.Email, &u.Picture)
	if err == sql.ErrNoRows {
		return nil, &catalog.NotFoundError{Kind: catalog.KindUser}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// LookupOrCreateUser finds the user for an email or creates one. A
// duplicate-email race between two concurrent first logins is resolved by
// re-reading the winner's row.
func (s *Store) LookupOrCreateUser(ctx context.Context, name, email, picture string) (u *catalog.User, err error) {
	defer s.observe("lookup_or_create_user", time.Now(), err)

	if u, err := s.GetUserByEmail(ctx, email); err == nil {
		return u, nil
	} else if !catalog.IsNotFound(err) {
		return nil, err
	}

	id, err := s.insert(ctx, `INSERT INTO users (name, email, picture) VALUES (?, ?, ?)`, name, email, picture)
	if err != nil {
		// Unique violation means another request created the row first;
		// treat our insert as a no-op reuse.
		if u, lookupErr := s.GetUserByEmail(ctx, email); lookupErr == nil {
			return u, nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &catalog.User{ID: id, Name: name, Email: email, Picture: picture}, nil
}

// --- insert helpers ---

// insert runs an INSERT and returns the new row id. Postgres has no
// LastInsertId, so the query grows a RETURNING clause there.
func (s *Store) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if s.driver == DriverPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) insertTx(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int64, error) {
	if s.driver == DriverPostgres {
		var id int64
		err := tx.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// removeFile attempts upload cleanup; a missing file is logged, not fatal.
func (s *Store) removeFile(ctx context.Context, filename string) {
	if s.files == nil || filename == "" {
		return
	}
	if err := s.files.Remove(ctx, filename); err != nil {
		s.logger.WithError(err).WithField("filename", filename).Warn("failed to remove image file")
	}
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
