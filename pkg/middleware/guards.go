package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/catalogkit/catalogd/pkg/catalog"
	"github.com/catalogkit/catalogd/pkg/contextkeys"
	"github.com/catalogkit/catalogd/pkg/httputil"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/store"
)

// ResourceGuard resolves "{id}-{slug}" path segments to catalog records
// before the handler runs. A segment without a numeric prefix, a missing
// record, or a record outside its route's category all produce the same
// 404, so probing cannot distinguish the cases.
type ResourceGuard struct {
	store  *store.Store
	logger *observability.Logger
}

// NewResourceGuard creates resource resolution middleware.
func NewResourceGuard(st *store.Store, logger *observability.Logger) *ResourceGuard {
	return &ResourceGuard{store: st, logger: logger}
}

// RequireCategory resolves the {category} segment and stores the record
// in the context.
func (g *ResourceGuard) RequireCategory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := catalog.ParseSegment(mux.Vars(r)["category"])
		if err != nil {
			httputil.WriteNotFound(w, "category not found")
			return
		}
		cat, err := g.store.GetCategory(r.Context(), id)
		if err != nil {
			g.notFound(w, err, "category not found")
			return
		}
		ctx := contextkeys.WithCategory(r.Context(), cat)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSubcategory resolves the {subcategory} segment scoped to the
// already-resolved category. It must be mounted inside RequireCategory.
func (g *ResourceGuard) RequireSubcategory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cat := GetCategory(r)
		if cat == nil {
			httputil.WriteInternalError(w)
			return
		}
		id, err := catalog.ParseSegment(mux.Vars(r)["subcategory"])
		if err != nil {
			httputil.WriteNotFound(w, "subcategory not found")
			return
		}
		sub, err := g.store.GetSubcategory(r.Context(), cat.ID, id)
		if err != nil {
			g.notFound(w, err, "subcategory not found")
			return
		}
		ctx := contextkeys.WithSubcategory(r.Context(), sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireItem resolves the {item} segment scoped to the already-resolved
// category. It must be mounted inside RequireCategory.
func (g *ResourceGuard) RequireItem(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cat := GetCategory(r)
		if cat == nil {
			httputil.WriteInternalError(w)
			return
		}
		id, err := catalog.ParseSegment(mux.Vars(r)["item"])
		if err != nil {
			httputil.WriteNotFound(w, "item not found")
			return
		}
		item, err := g.store.GetItem(r.Context(), cat.ID, id)
		if err != nil {
			g.notFound(w, err, "item not found")
			return
		}
		ctx := contextkeys.WithItem(r.Context(), item)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *ResourceGuard) notFound(w http.ResponseWriter, err error, message string) {
	if catalog.IsNotFound(err) {
		httputil.WriteNotFound(w, message)
		return
	}
	g.logger.WithError(err).Error("resource lookup failed")
	httputil.WriteInternalError(w)
}

// GetCategory extracts the category placed by RequireCategory.
func GetCategory(r *http.Request) *catalog.Category {
	c, _ := r.Context().Value(contextkeys.CategoryKey).(*catalog.Category)
	return c
}

// GetSubcategory extracts the subcategory placed by RequireSubcategory.
func GetSubcategory(r *http.Request) *catalog.Subcategory {
	s, _ := r.Context().Value(contextkeys.SubcategoryKey).(*catalog.Subcategory)
	return s
}

// GetItem extracts the item placed by RequireItem.
func GetItem(r *http.Request) *catalog.Item {
	i, _ := r.Context().Value(contextkeys.ItemKey).(*catalog.Item)
	return i
}
