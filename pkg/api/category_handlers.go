package api

import (
	"net/http"
	"strings"

	"github.com/catalogkit/catalogd/pkg/catalog"
	"github.com/catalogkit/catalogd/pkg/httputil"
	"github.com/catalogkit/catalogd/pkg/middleware"
)

// categoryView decorates a category with its URL path segment.
type categoryView struct {
	*catalog.Category
	Path string `json:"path"`
}

// subcategoryView decorates a subcategory with its URL path segment.
type subcategoryView struct {
	*catalog.Subcategory
	Path string `json:"path"`
}

func newCategoryView(c *catalog.Category) categoryView {
	return categoryView{Category: c, Path: catalog.PathSegment(c.ID, c.Name)}
}

func newSubcategoryView(sc *catalog.Subcategory) subcategoryView {
	return subcategoryView{Subcategory: sc, Path: catalog.PathSegment(sc.ID, sc.Name)}
}

// listCatalog handles GET /catalog
func (s *Server) listCatalog(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to list categories")
		httputil.WriteInternalError(w)
		return
	}

	views := make([]categoryView, len(categories))
	for i, c := range categories {
		views[i] = newCategoryView(c)
	}
	httputil.WriteSuccess(w, map[string]interface{}{"categories": views})
}

// createCategory handles POST /catalog/categories
func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		httputil.WriteFieldError(w, "name", "name is required")
		return
	}

	cat, err := s.store.CreateCategory(r.Context(), name)
	if err != nil {
		s.logger.WithError(err).Error("failed to create category")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, newCategoryView(cat))
}

// categoryDetail handles GET /catalog/{category}
func (s *Server) categoryDetail(w http.ResponseWriter, r *http.Request) {
	cat := middleware.GetCategory(r)

	subcategories, err := s.store.ListSubcategories(r.Context(), cat.ID)
	if err != nil {
		s.logger.WithError(err).Error("failed to list subcategories")
		httputil.WriteInternalError(w)
		return
	}
	items, err := s.store.ListItems(r.Context(), cat.ID)
	if err != nil {
		s.logger.WithError(err).Error("failed to list items")
		httputil.WriteInternalError(w)
		return
	}

	subViews := make([]subcategoryView, len(subcategories))
	for i, sc := range subcategories {
		subViews[i] = newSubcategoryView(sc)
	}
	itemViews := make([]itemView, len(items))
	for i, it := range items {
		itemViews[i] = newItemView(it)
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"category":      newCategoryView(cat),
		"subcategories": subViews,
		"items":         itemViews,
	})
}

// editCategory handles POST /catalog/{category}/edit
func (s *Server) editCategory(w http.ResponseWriter, r *http.Request) {
	cat := middleware.GetCategory(r)

	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		httputil.WriteFieldError(w, "name", "name is required")
		return
	}

	if err := s.store.UpdateCategory(r.Context(), cat.ID, name); err != nil {
		if catalog.IsNotFound(err) {
			httputil.WriteNotFound(w, "category not found")
			return
		}
		s.logger.WithError(err).Error("failed to update category")
		httputil.WriteInternalError(w)
		return
	}

	cat.Name = name
	httputil.WriteSuccess(w, newCategoryView(cat))
}

// deleteCategory handles POST /catalog/{category}/delete. The delete
// cascades through subcategories, items, and image files.
func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	cat := middleware.GetCategory(r)

	if err := s.store.DeleteCategory(r.Context(), cat.ID); err != nil {
		if catalog.IsNotFound(err) {
			httputil.WriteNotFound(w, "category not found")
			return
		}
		s.logger.WithError(err).Error("failed to delete category")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"message": "category " + cat.Name + " deleted",
	})
}

// createSubcategory handles POST /catalog/{category}/subcategories
func (s *Server) createSubcategory(w http.ResponseWriter, r *http.Request) {
	cat := middleware.GetCategory(r)

	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		httputil.WriteFieldError(w, "name", "name is required")
		return
	}

	sub, err := s.store.CreateSubcategory(r.Context(), cat.ID, name)
	if err != nil {
		s.logger.WithError(err).Error("failed to create subcategory")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteCreated(w, newSubcategoryView(sub))
}

// subcategoryDetail handles GET /catalog/{category}/subcategories/{subcategory}
func (s *Server) subcategoryDetail(w http.ResponseWriter, r *http.Request) {
	sub := middleware.GetSubcategory(r)

	items, err := s.store.ListItemsBySubcategory(r.Context(), sub.ID)
	if err != nil {
		s.logger.WithError(err).Error("failed to list subcategory items")
		httputil.WriteInternalError(w)
		return
	}

	itemViews := make([]itemView, len(items))
	for i, it := range items {
		itemViews[i] = newItemView(it)
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"subcategory": newSubcategoryView(sub),
		"items":       itemViews,
	})
}

// editSubcategory handles POST /catalog/{category}/subcategories/{subcategory}/edit
func (s *Server) editSubcategory(w http.ResponseWriter, r *http.Request) {
	cat := middleware.GetCategory(r)
	sub := middleware.GetSubcategory(r)

	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		httputil.WriteFieldError(w, "name", "name is required")
		return
	}

	if err := s.store.UpdateSubcategory(r.Context(), cat.ID, sub.ID, name); err != nil {
		if catalog.IsNotFound(err) {
			httputil.WriteNotFound(w, "subcategory not found")
			return
		}
		s.logger.WithError(err).Error("failed to update subcategory")
		httputil.WriteInternalError(w)
		return
	}

	sub.Name = name
	httputil.WriteSuccess(w, newSubcategoryView(sub))
}

// deleteSubcategory handles POST /catalog/{category}/subcategories/{subcategory}/delete.
// Items attached directly to the parent category survive.
func (s *Server) deleteSubcategory(w http.ResponseWriter, r *http.Request) {
	sub := middleware.GetSubcategory(r)

	if err := s.store.DeleteSubcategory(r.Context(), sub.ID); err != nil {
		if catalog.IsNotFound(err) {
			httputil.WriteNotFound(w, "subcategory not found")
			return
		}
		s.logger.WithError(err).Error("failed to delete subcategory")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"message": "subcategory " + sub.Name + " deleted",
	})
}
