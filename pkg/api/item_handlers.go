package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/catalogkit/catalogd/pkg/catalog"
	"github.com/catalogkit/catalogd/pkg/httputil"
	"github.com/catalogkit/catalogd/pkg/middleware"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

// maxUploadBytes caps an image upload.
const maxUploadBytes = 8 << 20

// itemView decorates an item with its URL path segment and image name.
type itemView struct {
	*catalog.Item
	Path  string `json:"path"`
	Image string `json:"image,omitempty"`
}

func newItemView(it *catalog.Item) itemView {
	return itemView{Item: it, Path: catalog.PathSegment(it.ID, it.Name)}
}

// parseItemForm reads the shared name/description/subcategory_id fields.
func parseItemForm(r *http.Request) (name, description string, subcategoryID *int64, fieldErr *httputil.FieldError) {
	name = strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		return "", "", nil, &httputil.FieldError{Field: "name", Message: "name is required"}
	}
	description = strings.TrimSpace(r.PostFormValue("description"))

	if raw := strings.TrimSpace(r.PostFormValue("subcategory_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", "", nil, &httputil.FieldError{Field: "subcategory_id", Message: "must be a numeric id"}
		}
		subcategoryID = &id
	}
	return name, description, subcategoryID, nil
}

// createItem handles POST /catalog/{category}/items. The request is
// multipart; an "image" part, when present, is created together with the
// row or not at all, so a rejected upload never leaves an imageless item
// behind.
func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	cat := middleware.GetCategory(r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "malformed form data")
		return
	}

	name, description, subcategoryID, fieldErr := parseItemForm(r)
	if fieldErr != nil {
		httputil.WriteFieldError(w, fieldErr.Field, fieldErr.Message)
		return
	}

	file, header, ferr := r.FormFile("image")
	hasImage := ferr == nil
	if ferr != nil && !errors.Is(ferr, http.ErrMissingFile) && !errors.Is(ferr, http.ErrNotMultipart) {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "malformed image upload")
		return
	}
	if hasImage {
		defer file.Close()
		// Reject an unusable image before the row exists.
		if err := uploads.ValidateType(header.Filename); err != nil {
			httputil.WriteFieldError(w, "image", "unsupported image type")
			return
		}
	}

	item := &catalog.Item{
		Name:          name,
		Description:   description,
		CategoryID:    cat.ID,
		SubcategoryID: subcategoryID,
	}
	if err := s.store.CreateItem(r.Context(), item); err != nil {
		s.writeItemError(w, err, "failed to create item")
		return
	}
	if !hasImage {
		httputil.WriteCreated(w, newItemView(item))
		return
	}

	filename, err := s.files.Save(r.Context(), item.ID, header.Filename, io.LimitReader(file, maxUploadBytes))
	if err == nil {
		if _, err = s.store.SetItemImage(r.Context(), item.ID, filename); err != nil {
			if rmErr := s.files.Remove(r.Context(), filename); rmErr != nil {
				s.logger.WithError(rmErr).Warn("failed to remove image file after rollback")
			}
		}
	}
	if err != nil {
		// Roll the fresh row back so the failed request leaves no item.
		if delErr := s.store.DeleteItem(r.Context(), item.ID); delErr != nil {
			s.logger.WithError(delErr).Error("failed to roll back item after image failure")
		}
		if errors.Is(err, uploads.ErrUnsupportedType) {
			httputil.WriteFieldError(w, "image", "unsupported image type")
			return
		}
		s.logger.WithError(err).Error("failed to store image")
		httputil.WriteInternalError(w)
		return
	}

	if s.metrics != nil {
		s.metrics.UploadsTotal.WithLabelValues("ok").Inc()
		s.metrics.UploadBytes.Add(float64(header.Size))
	}
	view := newItemView(item)
	view.Image = filename
	httputil.WriteCreated(w, view)
}

// itemDetail handles GET /catalog/{category}/{item}
func (s *Server) itemDetail(w http.ResponseWriter, r *http.Request) {
	item := middleware.GetItem(r)

	view := newItemView(item)
	img, err := s.store.GetItemImage(r.Context(), item.ID)
	if err == nil {
		view.Image = img.Filename
	} else if !catalog.IsNotFound(err) {
		s.logger.WithError(err).Error("failed to load item image")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, view)
}

// editItem handles POST /catalog/{category}/{item}/edit
func (s *Server) editItem(w http.ResponseWriter, r *http.Request) {
	cat := middleware.GetCategory(r)
	item := middleware.GetItem(r)

	name, description, subcategoryID, fieldErr := parseItemForm(r)
	if fieldErr != nil {
		httputil.WriteFieldError(w, fieldErr.Field, fieldErr.Message)
		return
	}

	updated := *item
	updated.Name = name
	updated.Description = description
	updated.SubcategoryID = subcategoryID
	updated.CategoryID = cat.ID
	updated.Updated = time.Now().UTC()

	if err := s.store.UpdateItem(r.Context(), &updated); err != nil {
		s.writeItemError(w, err, "failed to update item")
		return
	}
	httputil.WriteSuccess(w, newItemView(&updated))
}

// deleteItem handles POST /catalog/{category}/{item}/delete
func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	item := middleware.GetItem(r)

	if err := s.store.DeleteItem(r.Context(), item.ID); err != nil {
		if catalog.IsNotFound(err) {
			httputil.WriteNotFound(w, "item not found")
			return
		}
		s.logger.WithError(err).Error("failed to delete item")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"message": "item " + item.Name + " deleted",
	})
}

// uploadItemImage handles POST /catalog/{category}/{item}/image. An
// existing image row and file are replaced.
func (s *Server) uploadItemImage(w http.ResponseWriter, r *http.Request) {
	item := middleware.GetItem(r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "malformed form data")
		return
	}

	view, handled := s.attachImage(w, r, item)
	if handled {
		return
	}
	if view == nil {
		httputil.WriteFieldError(w, "image", "image file is required")
		return
	}
	httputil.WriteSuccess(w, *view)
}

// attachImage stores the request's "image" part against the item. It
// returns (nil, false) when the request carries no image part, and
// (nil, true) when it already wrote an error response.
func (s *Server) attachImage(w http.ResponseWriter, r *http.Request, item *catalog.Item) (*itemView, bool) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, false
		}
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "malformed image upload")
		return nil, true
	}
	defer file.Close()

	filename, err := s.files.Save(r.Context(), item.ID, header.Filename, io.LimitReader(file, maxUploadBytes))
	if err != nil {
		if errors.Is(err, uploads.ErrUnsupportedType) {
			httputil.WriteFieldError(w, "image", "unsupported image type")
			return nil, true
		}
		s.logger.WithError(err).Error("failed to store image")
		httputil.WriteInternalError(w)
		return nil, true
	}

	if _, err := s.store.SetItemImage(r.Context(), item.ID, filename); err != nil {
		s.logger.WithError(err).Error("failed to record image")
		httputil.WriteInternalError(w)
		return nil, true
	}

	if s.metrics != nil {
		s.metrics.UploadsTotal.WithLabelValues("ok").Inc()
		s.metrics.UploadBytes.Add(float64(header.Size))
	}

	view := newItemView(item)
	view.Image = filename
	return &view, false
}

// serveUpload handles GET /uploads/{filename}
func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if filename == "" || strings.ContainsAny(filename, "/\\") {
		httputil.WriteNotFound(w, "file not found")
		return
	}

	rc, err := s.files.Open(r.Context(), filename)
	if err != nil {
		httputil.WriteNotFound(w, "file not found")
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.WithError(err).Debug("upload transfer aborted")
	}
}

func (s *Server) writeItemError(w http.ResponseWriter, err error, logMsg string) {
	var integrity *catalog.IntegrityError
	switch {
	case errors.As(err, &integrity):
		httputil.WriteFieldError(w, integrity.Field, integrity.Reason)
	case catalog.IsNotFound(err):
		httputil.WriteNotFound(w, "item not found")
	default:
		s.logger.WithError(err).Error(logMsg)
		httputil.WriteInternalError(w)
	}
}
