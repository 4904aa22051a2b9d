package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/coursedeck/coursedeck"
	"github.com/coursedeck/coursedeck/internal/config"
	"github.com/coursedeck/coursedeck/internal/nav"
	"github.com/coursedeck/coursedeck/internal/repourl"
	"github.com/coursedeck/coursedeck/internal/square"
	"github.com/coursedeck/coursedeck/internal/store"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// maxUploadSize limits uploaded courseware files (20MB, matching the remote
// fetch cap)
const maxUploadSize = 20 << 20

// squareTokenHeader carries the square session token.
const squareTokenHeader = "X-Square-Token"

// APIHandler handles the JSON API under /api/.
type APIHandler struct {
	cfg      *config.Config
	store    *store.Store
	resolver *nav.Resolver
	square   *square.Service // nil when disabled
	hub      *SyncHub
	auth     func(http.Handler) http.Handler
}

// NewAPIHandler creates the API handler. Mutating endpoints are gated by the
// configured API key, when one is set.
func NewAPIHandler(cfg *config.Config, st *store.Store, resolver *nav.Resolver, sq *square.Service, hub *SyncHub) *APIHandler {
	var authCfg *config.AuthConfig
	if cfg.API != nil {
		authCfg = cfg.API.Auth
	}
	return &APIHandler{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		square:   sq,
		hub:      hub,
		auth:     AuthMiddleware(authCfg),
	}
}

// ServeHTTP dispatches API requests.
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/")

	switch {
	case strings.HasPrefix(path, "square/"):
		// The square has its own account system; the API key does not apply.
		h.serveSquare(w, r, strings.TrimPrefix(path, "square/"))
		return
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		h.serveRead(w, r, path)
		return
	}

	// Everything else mutates local state.
	h.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveWrite(w, r, path)
	})).ServeHTTP(w, r)
}

func (h *APIHandler) serveRead(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case path == "health":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"active":  h.store.Len(),
			"loading": h.store.IsLoading(),
		})
	case path == "active":
		h.handleActiveList(w)
	case path == "groups":
		h.handleGroupList(w)
	case path == "repos":
		h.handleRepoList(w)
	case path == "prefs":
		writeJSON(w, http.StatusOK, h.store.Prefs())
	case strings.HasPrefix(path, "catalog/"):
		h.handleCatalog(w, r, strings.TrimPrefix(path, "catalog/"))
	default:
		writeError(w, http.StatusNotFound, "unknown endpoint")
	}
}

func (h *APIHandler) serveWrite(w http.ResponseWriter, r *http.Request, path string) {
	if path != "upload" {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	}

	switch {
	case path == "active" && r.Method == http.MethodPost:
		h.handleActiveAdd(w, r)
	case strings.HasPrefix(path, "active/") && r.Method == http.MethodDelete:
		h.handleActiveRemove(w, r, strings.TrimPrefix(path, "active/"))
	case path == "active/select" && r.Method == http.MethodPost:
		h.handleActiveSelect(w, r)
	case path == "active/reorder" && r.Method == http.MethodPost:
		h.handleActiveReorder(w, r)
	case path == "repos" && r.Method == http.MethodPost:
		h.handleRepoAdd(w, r)
	case strings.HasPrefix(path, "repos/") && r.Method == http.MethodDelete:
		h.handleRepoRemove(w, r, strings.TrimPrefix(path, "repos/"))
	case path == "reload" && r.Method == http.MethodPost:
		h.handleReload(w, r)
	case path == "prefs" && r.Method == http.MethodPut:
		h.handlePrefsUpdate(w, r)
	case path == "upload" && r.Method == http.MethodPost:
		h.handleUpload(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown endpoint")
	}
}

// activeEntry is the list representation of one active courseware.
type activeEntry struct {
	Index      int    `json:"index"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	PageCount  int    `json:"pageCount"`
	Bundled    bool   `json:"isBundled"`
	SourcePath string `json:"sourcePath,omitempty"`
	GroupName  string `json:"groupName,omitempty"`
	Current    bool   `json:"current"`
}

func (h *APIHandler) handleActiveList(w http.ResponseWriter) {
	active := h.store.Active()
	_, current := h.store.Current()

	entries := make([]activeEntry, len(active))
	for i, cw := range active {
		entries[i] = activeEntry{
			Index:      i,
			ID:         cw.ID,
			Title:      cw.Title,
			PageCount:  cw.PageCount(),
			Bundled:    cw.Bundled,
			SourcePath: cw.SourcePath,
			GroupName:  cw.GroupName,
			Current:    i == current,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"coursewares":  entries,
		"currentIndex": current,
	})
}

type groupEntry struct {
	ID          string `json:"id"`
	CourseID    string `json:"courseId"`
	Name        string `json:"name"`
	Count       int    `json:"count"`
	Description string `json:"descriptionHtml,omitempty"`
}

func (h *APIHandler) handleGroupList(w http.ResponseWriter) {
	groups := h.store.BundledGroups()
	entries := make([]groupEntry, len(groups))
	for i, g := range groups {
		entries[i] = groupEntry{
			ID:          g.ID,
			CourseID:    g.CourseID,
			Name:        g.Name,
			Count:       len(g.Coursewares),
			Description: g.DescriptionHTML,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": entries})
}

func (h *APIHandler) handleCatalog(w http.ResponseWriter, r *http.Request, rest string) {
	index, err := strconv.Atoi(strings.Trim(rest, "/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid courseware index")
		return
	}
	cw := h.store.At(index)
	if cw == nil {
		writeError(w, http.StatusNotFound, "courseware not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"title": cw.Title,
		"pages": cw.Pages,
	})
}

func (h *APIHandler) handleActiveAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"` // semantic courseware path
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target := repourl.ParseCoursewarePath(req.Path, h.cfg.Player.GetDefaultBranch())
	if target == nil {
		writeError(w, http.StatusBadRequest, "not a courseware path: "+req.Path)
		return
	}

	res := h.resolver.ResolveSemantic(r.Context(), target)
	if res.State != nav.StateReady {
		writeError(w, http.StatusNotFound, "courseware not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":         res.Index,
		"canonicalPath": res.CanonicalPath,
	})
}

func (h *APIHandler) handleActiveRemove(w http.ResponseWriter, r *http.Request, rest string) {
	index, err := strconv.Atoi(strings.Trim(rest, "/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid courseware index")
		return
	}
	if h.store.At(index) == nil {
		writeError(w, http.StatusNotFound, "courseware not found")
		return
	}
	h.store.Remove(index)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *APIHandler) handleActiveSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index     int `json:"index"`
		PageIndex int `json:"pageIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if h.store.At(req.Index) == nil {
		writeError(w, http.StatusNotFound, "courseware not found")
		return
	}
	h.hub.SetPosition(req.Index, req.PageIndex)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *APIHandler) handleActiveReorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.store.Reorder(req.From, req.To)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *APIHandler) handleRepoList(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"repos":     h.store.RepoConfigs(),
		"userRepos": h.store.UserRepos(),
	})
}

func (h *APIHandler) handleRepoAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	parsed := repourl.ParseUserRepoURL(req.URL, h.cfg.Player.GetDefaultBranch())
	if parsed == nil {
		writeError(w, http.StatusBadRequest, "unsupported repository URL: "+req.URL)
		return
	}

	added := h.store.AddRepoConfig(coursedeck.RepoConfig{BaseURL: parsed.RawURL})
	if added {
		h.store.AddUserRepo(store.UserRepo{
			Platform: parsed.Platform,
			RepoURL:  req.URL,
			RawURL:   parsed.RawURL,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"added":   added,
		"rawUrl":  parsed.RawURL,
	})
}

func (h *APIHandler) handleRepoRemove(w http.ResponseWriter, r *http.Request, rest string) {
	baseURL, err := url.PathUnescape(strings.Trim(rest, "/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repo reference")
		return
	}
	if !h.store.RemoveRepoConfig(baseURL) {
		writeError(w, http.StatusNotFound, "repo not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *APIHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	repos := h.store.RepoConfigs()
	if err := h.store.LoadFromRepos(r.Context(), repos); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"groups":  len(h.store.BundledGroups()),
	})
}

func (h *APIHandler) handlePrefsUpdate(w http.ResponseWriter, r *http.Request) {
	var prefs store.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.store.SetPrefs(prefs)
	writeJSON(w, http.StatusOK, prefs)
}

func (h *APIHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".html" && ext != ".htm" {
		writeError(w, http.StatusBadRequest, "only .html files are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	cw := coursedeck.ParseHTML(string(data), header.Filename, h.store.Assets())
	cw.ID = uuid.NewString()
	index := h.store.Add(cw)
	log.Printf("[API] Uploaded courseware %q (%d pages)", cw.Title, cw.PageCount())

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"index": index,
		"id":    cw.ID,
		"title": cw.Title,
		"pages": cw.PageCount(),
	})
}

// Square endpoints. The square speaks its own response dialect: every payload
// carries a success flag and failures are {success: false, error}.

func writeSquare(w http.ResponseWriter, status int, fields map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeSquareError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

func (h *APIHandler) serveSquare(w http.ResponseWriter, r *http.Request, path string) {
	if h.square == nil {
		writeSquareError(w, http.StatusNotImplemented, "square is not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	switch {
	case path == "register" && r.Method == http.MethodPost:
		h.handleSquareRegister(w, r)
	case path == "login" && r.Method == http.MethodPost:
		h.handleSquareLogin(w, r)
	case path == "logout" && r.Method == http.MethodPost:
		h.handleSquareLogout(w, r)
	case path == "shares" && r.Method == http.MethodGet:
		h.handleSquareShareList(w, r)
	case path == "shares" && r.Method == http.MethodPost:
		h.handleSquarePublish(w, r)
	case path == "repos" && r.Method == http.MethodGet:
		h.handleSquareRepoList(w, r)
	case path == "repos" && r.Method == http.MethodPost:
		h.handleSquareRepoBind(w, r)
	case strings.HasPrefix(path, "shares/"):
		h.serveSquareShare(w, r, strings.TrimPrefix(path, "shares/"))
	default:
		writeSquareError(w, http.StatusNotFound, "unknown endpoint")
	}
}

func (h *APIHandler) serveSquareShare(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	shareID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeSquareError(w, http.StatusBadRequest, "invalid share id")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "like" && r.Method == http.MethodPost:
		h.handleSquareLike(w, r, shareID)
	case len(parts) == 2 && parts[1] == "view" && r.Method == http.MethodPost:
		h.handleSquareView(w, r, shareID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleSquareUnpublish(w, r, shareID)
	default:
		writeSquareError(w, http.StatusNotFound, "unknown endpoint")
	}
}

// squareUser resolves the session token header, writing the failure response
// itself. Returns nil when the request is not authenticated.
func (h *APIHandler) squareUser(w http.ResponseWriter, r *http.Request) *square.User {
	user, err := h.square.UserForToken(r.Context(), r.Header.Get(squareTokenHeader))
	if err != nil {
		if errors.Is(err, square.ErrInvalidSession) {
			writeSquareError(w, http.StatusUnauthorized, "invalid or expired session")
		} else {
			log.Printf("[Square] Session lookup failed: %v", err)
			writeSquareError(w, http.StatusInternalServerError, "internal error")
		}
		return nil
	}
	return user
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) handleSquareRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSquareError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.square.Register(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, square.ErrUsernameTaken):
		writeSquareError(w, http.StatusConflict, "username already taken")
	case errors.Is(err, square.ErrInvalidCredentials):
		writeSquareError(w, http.StatusBadRequest, "username and password required")
	case err != nil:
		log.Printf("[Square] Register failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
	default:
		writeSquare(w, http.StatusCreated, map[string]interface{}{"user": user})
	}
}

func (h *APIHandler) handleSquareLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSquareError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.square.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, square.ErrInvalidCredentials):
		writeSquareError(w, http.StatusUnauthorized, "invalid username or password")
	case err != nil:
		log.Printf("[Square] Login failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
	default:
		writeSquare(w, http.StatusOK, map[string]interface{}{"token": token})
	}
}

func (h *APIHandler) handleSquareLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.square.Logout(r.Context(), r.Header.Get(squareTokenHeader)); err != nil {
		log.Printf("[Square] Logout failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeSquare(w, http.StatusOK, nil)
}

func (h *APIHandler) handleSquareShareList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	shares, err := h.square.List(r.Context(), limit, offset)
	if err != nil {
		log.Printf("[Square] List failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if shares == nil {
		shares = []square.Share{}
	}
	writeSquare(w, http.StatusOK, map[string]interface{}{"shares": shares})
}

func (h *APIHandler) handleSquarePublish(w http.ResponseWriter, r *http.Request) {
	user := h.squareUser(w, r)
	if user == nil {
		return
	}

	var req struct {
		Title    string `json:"title"`
		CourseID string `json:"courseId"`
		RepoURL  string `json:"repoUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSquareError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.CourseID == "" {
		writeSquareError(w, http.StatusBadRequest, "title and courseId required")
		return
	}

	share, err := h.square.Publish(r.Context(), user.ID, req.Title, req.CourseID, req.RepoURL)
	if err != nil {
		log.Printf("[Square] Publish failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeSquare(w, http.StatusCreated, map[string]interface{}{"share": share})
}

func (h *APIHandler) handleSquareUnpublish(w http.ResponseWriter, r *http.Request, shareID int64) {
	user := h.squareUser(w, r)
	if user == nil {
		return
	}

	err := h.square.Unpublish(r.Context(), shareID, user.ID)
	switch {
	case errors.Is(err, square.ErrShareNotFound):
		writeSquareError(w, http.StatusNotFound, "share not found")
	case errors.Is(err, square.ErrNotShareOwner):
		writeSquareError(w, http.StatusForbidden, "not the share owner")
	case err != nil:
		log.Printf("[Square] Unpublish failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
	default:
		writeSquare(w, http.StatusOK, nil)
	}
}

func (h *APIHandler) handleSquareLike(w http.ResponseWriter, r *http.Request, shareID int64) {
	user := h.squareUser(w, r)
	if user == nil {
		return
	}

	likes, err := h.square.Like(r.Context(), shareID, user.ID)
	switch {
	case errors.Is(err, square.ErrShareNotFound):
		writeSquareError(w, http.StatusNotFound, "share not found")
	case err != nil:
		log.Printf("[Square] Like failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
	default:
		writeSquare(w, http.StatusOK, map[string]interface{}{"likes": likes})
	}
}

func (h *APIHandler) handleSquareView(w http.ResponseWriter, r *http.Request, shareID int64) {
	views, err := h.square.RegisterView(r.Context(), shareID)
	switch {
	case errors.Is(err, square.ErrShareNotFound):
		writeSquareError(w, http.StatusNotFound, "share not found")
	case err != nil:
		log.Printf("[Square] View failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
	default:
		writeSquare(w, http.StatusOK, map[string]interface{}{"views": views})
	}
}

func (h *APIHandler) handleSquareRepoList(w http.ResponseWriter, r *http.Request) {
	user := h.squareUser(w, r)
	if user == nil {
		return
	}

	repos, err := h.square.ReposFor(r.Context(), user.ID)
	if err != nil {
		log.Printf("[Square] Repo list failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if repos == nil {
		repos = []square.RepoBinding{}
	}
	writeSquare(w, http.StatusOK, map[string]interface{}{"repos": repos})
}

func (h *APIHandler) handleSquareRepoBind(w http.ResponseWriter, r *http.Request) {
	user := h.squareUser(w, r)
	if user == nil {
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSquareError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	parsed := repourl.ParseUserRepoURL(req.URL, h.cfg.Player.GetDefaultBranch())
	if parsed == nil {
		writeSquareError(w, http.StatusBadRequest, "unsupported repository URL")
		return
	}

	if err := h.square.BindRepo(r.Context(), user.ID, parsed.Platform, req.URL, parsed.RawURL); err != nil {
		log.Printf("[Square] Repo bind failed: %v", err)
		writeSquareError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeSquare(w, http.StatusOK, map[string]interface{}{"rawUrl": parsed.RawURL})
}
