package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
	"github.com/catalogkit/catalogd/pkg/store"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

// apiFixture drives the server the way a cookie-holding browser would.
type apiFixture struct {
	t          *testing.T
	server     *Server
	store      *store.Store
	uploadsDir string
	cookie     *http.Cookie
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(context.Background(), db, store.DriverSQLite))

	uploadsDir := t.TempDir()
	files, err := uploads.NewFileSystemStore(uploadsDir)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	st, err := store.New(db, store.DriverSQLite, files, logger, nil)
	require.NoError(t, err)

	sessions := session.NewManager(session.NewSQLStore(db, store.DriverSQLite), 0, false)

	verifier, err := auth.NewStaticVerifier("admin", "", "admin")
	require.NoError(t, err)

	srv := NewServer(Options{
		Store:         st,
		Sessions:      sessions,
		Authenticator: auth.NewAuthenticator(verifier),
		Files:         files,
		Logger:        logger,
	})
	return &apiFixture{t: t, server: srv, store: st, uploadsDir: uploadsDir}
}

// do sends a request, carrying and updating the fixture's session cookie.
func (fx *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	fx.t.Helper()
	if fx.cookie != nil {
		req.AddCookie(fx.cookie)
	}
	w := httptest.NewRecorder()
	fx.server.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName && c.MaxAge >= 0 {
			fx.cookie = c
		}
	}
	return w
}

func (fx *apiFixture) get(path string) *httptest.ResponseRecorder {
	return fx.do(httptest.NewRequest("GET", path, nil))
}

// postForm sends an urlencoded POST with a freshly minted state token.
func (fx *apiFixture) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	fx.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("state", fx.state())
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return fx.do(req)
}

// state fetches a fresh single-use token from the login form.
func (fx *apiFixture) state() string {
	fx.t.Helper()
	w := fx.get("/login")
	require.Equal(fx.t, http.StatusOK, w.Code)
	return decodeBody(fx.t, w)["state"].(string)
}

func (fx *apiFixture) login() {
	fx.t.Helper()
	w := fx.postForm("/login", url.Values{"username": {"admin"}, "password": {"admin"}})
	require.Equal(fx.t, http.StatusOK, w.Code)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	fx := newAPIFixture(t)
	w := fx.get("/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestLocalLoginFlow(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["authenticated"])

	// Wrong password yields one fixed message, never a hint.
	w = fx.postForm("/login", url.Values{"username": {"admin"}, "password": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid credential, please try again", decodeBody(t, w)["error"])

	// Wrong username yields the same message.
	w = fx.postForm("/login", url.Values{"username": {"root"}, "password": {"admin"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid credential, please try again", decodeBody(t, w)["error"])

	w = fx.postForm("/login", url.Values{"username": {"admin"}, "password": {"admin"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "you are now logged in as admin", decodeBody(t, w)["message"])

	w = fx.get("/")
	body := decodeBody(t, w)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "admin", body["name"])
	assert.Equal(t, "local", body["type"])

	w = fx.get("/logout")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "you have been successfully logged out", decodeBody(t, w)["message"])

	w = fx.get("/")
	assert.Equal(t, false, decodeBody(t, w)["authenticated"])
}

func TestLoginRequiresStateToken(t *testing.T) {
	fx := newAPIFixture(t)

	form := url.Values{"username": {"admin"}, "password": {"admin"}}
	req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := fx.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "invalid state parameter", decodeBody(t, w)["error"])
}

func TestLogoutRedirectsAnonymous(t *testing.T) {
	fx := newAPIFixture(t)
	w := fx.get("/logout")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestMutationRequiresAuth(t *testing.T) {
	fx := newAPIFixture(t)
	w := fx.postForm("/catalog/categories", url.Values{"name": {"Electronics"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication required", decodeBody(t, w)["error"])
}

func TestOAuthRoutesWithoutProvider(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.get("/oauth/connect")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = fx.do(httptest.NewRequest("POST", "/oauth/callback?state=x", strings.NewReader("code")))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCategoryLifecycle(t *testing.T) {
	fx := newAPIFixture(t)
	fx.login()

	w := fx.postForm("/catalog/categories", url.Values{"name": {"Electronics"}})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	path := created["path"].(string)
	assert.Regexp(t, `^\d+-electronics$`, path)

	// Blank name is a field-level rejection.
	w = fx.postForm("/catalog/categories", url.Values{"name": {"   "}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = fx.get("/catalog")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["categories"], 1)

	w = fx.postForm("/catalog/"+path+"/edit", url.Values{"name": {"Gadgets"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Gadgets", decodeBody(t, w)["name"])

	// The id prefix is authoritative, so the stale slug still resolves.
	w = fx.get("/catalog/" + path)
	require.Equal(t, http.StatusOK, w.Code)

	w = fx.postForm("/catalog/"+path+"/delete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "category Gadgets deleted", decodeBody(t, w)["message"])

	w = fx.get("/catalog/" + path)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuardedRoutesReturn404(t *testing.T) {
	fx := newAPIFixture(t)

	for _, path := range []string{
		"/catalog/999-electronics",
		"/catalog/electronics",
		"/catalog/999-electronics/1-pixel",
	} {
		w := fx.get(path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestMutationChecksAuthBeforeResource(t *testing.T) {
	fx := newAPIFixture(t)

	// An anonymous mutation on a nonexistent category answers for the
	// missing claim, not the missing resource.
	req := httptest.NewRequest("POST", "/catalog/999-electronics/edit", strings.NewReader("name=Gadgets"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := fx.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// With a claim but no state token, the CSRF check answers next.
	fx.login()
	req = httptest.NewRequest("POST", "/catalog/999-electronics/edit", strings.NewReader("name=Gadgets"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = fx.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Only a fully authorized caller sees that the category is missing.
	w = fx.postForm("/catalog/999-electronics/edit", url.Values{"name": {"Gadgets"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// multipartForm builds an item form, optionally with an image part.
func multipartForm(t *testing.T, fields map[string]string, imageName string, imageBytes []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if imageName != "" {
		part, err := mw.CreateFormFile("image", imageName)
		require.NoError(t, err)
		_, err = part.Write(imageBytes)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (fx *apiFixture) postMultipart(path string, fields map[string]string, imageName string, imageBytes []byte) *httptest.ResponseRecorder {
	fx.t.Helper()
	if fields == nil {
		fields = map[string]string{}
	}
	fields["state"] = fx.state()
	body, contentType := multipartForm(fx.t, fields, imageName, imageBytes)
	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", contentType)
	return fx.do(req)
}

func TestItemLifecycleWithImage(t *testing.T) {
	fx := newAPIFixture(t)
	fx.login()

	w := fx.postForm("/catalog/categories", url.Values{"name": {"Electronics"}})
	require.Equal(t, http.StatusCreated, w.Code)
	catPath := decodeBody(t, w)["path"].(string)

	w = fx.postForm("/catalog/"+catPath+"/subcategories", url.Values{"name": {"Phones"}})
	require.Equal(t, http.StatusCreated, w.Code)
	sub := decodeBody(t, w)
	subID := fmt.Sprintf("%.0f", sub["id"].(float64))

	w = fx.postMultipart("/catalog/"+catPath+"/items", map[string]string{
		"name":           "Pixel",
		"description":    "a phone",
		"subcategory_id": subID,
	}, "pixel.png", []byte("png-bytes"))
	require.Equal(t, http.StatusCreated, w.Code)
	item := decodeBody(t, w)
	itemPath := item["path"].(string)
	imageName := item["image"].(string)
	require.NotEmpty(t, imageName)

	// The stored file is served back through the passthrough route.
	w = fx.get("/uploads/" + imageName)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = fx.get("/catalog/" + catPath + "/" + itemPath)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeBody(t, w)
	assert.Equal(t, "Pixel", detail["name"])
	assert.Equal(t, imageName, detail["image"])

	// Replacing the image drops the old file.
	w = fx.postMultipart("/catalog/"+catPath+"/"+itemPath+"/image", nil, "better.jpg", []byte("jpg-bytes"))
	require.Equal(t, http.StatusOK, w.Code)
	replaced := decodeBody(t, w)["image"].(string)
	assert.NotEqual(t, imageName, replaced)
	_, err := os.Stat(filepath.Join(fx.uploadsDir, imageName))
	assert.True(t, os.IsNotExist(err))

	w = fx.postForm("/catalog/"+catPath+"/"+itemPath+"/edit", url.Values{
		"name":        {"Pixel 9"},
		"description": {"a newer phone"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pixel 9", decodeBody(t, w)["name"])

	w = fx.postForm("/catalog/"+catPath+"/"+itemPath+"/delete", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = fx.get("/catalog/" + catPath + "/" + itemPath)
	assert.Equal(t, http.StatusNotFound, w.Code)
	_, err = os.Stat(filepath.Join(fx.uploadsDir, replaced))
	assert.True(t, os.IsNotExist(err))
}

func TestItemRejectsForeignSubcategory(t *testing.T) {
	fx := newAPIFixture(t)
	fx.login()

	w := fx.postForm("/catalog/categories", url.Values{"name": {"Electronics"}})
	require.Equal(t, http.StatusCreated, w.Code)
	electronics := decodeBody(t, w)["path"].(string)

	w = fx.postForm("/catalog/categories", url.Values{"name": {"Books"}})
	require.Equal(t, http.StatusCreated, w.Code)
	books := decodeBody(t, w)["path"].(string)

	w = fx.postForm("/catalog/"+books+"/subcategories", url.Values{"name": {"Fiction"}})
	require.Equal(t, http.StatusCreated, w.Code)
	fictionID := fmt.Sprintf("%.0f", decodeBody(t, w)["id"].(float64))

	// A subcategory under another category cannot anchor the item.
	w = fx.postForm("/catalog/"+electronics+"/items", url.Values{
		"name":           {"Pixel"},
		"subcategory_id": {fictionID},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeBody(t, w)
	fields := body["fields"].([]interface{})
	require.Len(t, fields, 1)
	assert.Equal(t, "subcategory_id", fields[0].(map[string]interface{})["field"])
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	fx := newAPIFixture(t)
	fx.login()

	w := fx.postForm("/catalog/categories", url.Values{"name": {"Electronics"}})
	require.Equal(t, http.StatusCreated, w.Code)
	catPath := decodeBody(t, w)["path"].(string)

	w = fx.postMultipart("/catalog/"+catPath+"/items", map[string]string{"name": "Pixel"}, "notes.txt", []byte("text"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// The rejected request created nothing, so a retry cannot duplicate.
	w = fx.get("/catalog/" + catPath)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["items"])
}

func TestCategoryCascadeOverHTTP(t *testing.T) {
	fx := newAPIFixture(t)
	fx.login()

	w := fx.postForm("/catalog/categories", url.Values{"name": {"Electronics"}})
	require.Equal(t, http.StatusCreated, w.Code)
	catPath := decodeBody(t, w)["path"].(string)

	w = fx.postForm("/catalog/"+catPath+"/subcategories", url.Values{"name": {"Phones"}})
	require.Equal(t, http.StatusCreated, w.Code)
	subPath := decodeBody(t, w)["path"].(string)
	subID := strings.SplitN(subPath, "-", 2)[0]

	w = fx.postMultipart("/catalog/"+catPath+"/items", map[string]string{
		"name":           "Pixel",
		"subcategory_id": subID,
	}, "pixel.png", []byte("png-bytes"))
	require.Equal(t, http.StatusCreated, w.Code)
	item := decodeBody(t, w)
	itemPath := item["path"].(string)
	imageName := item["image"].(string)

	w = fx.postForm("/catalog/"+catPath+"/delete", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Everything underneath is gone, including the image file.
	for _, path := range []string{
		"/catalog/" + catPath,
		"/catalog/" + catPath + "/subcategories/" + subPath,
		"/catalog/" + catPath + "/" + itemPath,
	} {
		w = fx.get(path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	_, err := os.Stat(filepath.Join(fx.uploadsDir, imageName))
	assert.True(t, os.IsNotExist(err))
}

func TestSubcategoryDeleteSparesDirectItems(t *testing.T) {
	fx := newAPIFixture(t)
	fx.login()

	w := fx.postForm("/catalog/categories", url.Values{"name": {"Electronics"}})
	require.Equal(t, http.StatusCreated, w.Code)
	catPath := decodeBody(t, w)["path"].(string)

	w = fx.postForm("/catalog/"+catPath+"/subcategories", url.Values{"name": {"Phones"}})
	require.Equal(t, http.StatusCreated, w.Code)
	subPath := decodeBody(t, w)["path"].(string)
	subID := strings.SplitN(subPath, "-", 2)[0]

	w = fx.postForm("/catalog/"+catPath+"/items", url.Values{
		"name":           {"Pixel"},
		"subcategory_id": {subID},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	nested := decodeBody(t, w)["path"].(string)

	w = fx.postForm("/catalog/"+catPath+"/items", url.Values{"name": {"Charger"}})
	require.Equal(t, http.StatusCreated, w.Code)
	direct := decodeBody(t, w)["path"].(string)

	w = fx.postForm("/catalog/"+catPath+"/subcategories/"+subPath+"/delete", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = fx.get("/catalog/" + catPath + "/" + nested)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = fx.get("/catalog/" + catPath + "/" + direct)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServeUploadRejectsTraversal(t *testing.T) {
	fx := newAPIFixture(t)
	w := fx.get("/uploads/missing.png")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
