package api

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"emberframe/internal/apperr"
	"emberframe/internal/files"
	"emberframe/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxUploadRequest = 2 << 30
	multipartMemory  = 32 << 20
)

type ListFilesResponse struct {
	Path    string             `json:"path" example:"/docs"`
	Entries []models.FileEntry `json:"entries"`
}

type UploadItem struct {
	Filename string            `json:"filename"`
	Entry    *models.FileEntry `json:"entry,omitempty"`
	Renamed  bool              `json:"renamed"`
	Error    *ErrorResponse    `json:"error,omitempty"`
}

type UploadResponse struct {
	Files     []UploadItem `json:"files"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

type CreateFolderRequest struct {
	Path string `json:"path" example:"/docs"`
	Name string `json:"name" example:"invoices"`
}

type RenameRequest struct {
	Path    string `json:"path" example:"/docs/report.pdf"`
	NewName string `json:"new_name" example:"report-final.pdf"`
}

type PasteRequest struct {
	Sources     []string `json:"sources"`
	Destination string   `json:"destination" example:"/archive"`
	Operation   string   `json:"operation" enums:"move,copy"`
}

type PasteItem struct {
	Source string         `json:"source"`
	Target string         `json:"target,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

type PasteResponse struct {
	Operation string      `json:"operation"`
	Results   []PasteItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

type DeleteResponse struct {
	Path       string `json:"path"`
	FreedBytes int64  `json:"freed_bytes"`
}

// itemError renders a per-item failure the way writeError renders a whole
// request failure.
func itemError(err error) *ErrorResponse {
	if err == nil {
		return nil
	}
	resp := &ErrorResponse{Error: apperr.Kind(err), Message: err.Error()}
	if apperr.IsInternal(err) {
		resp.Message = "internal server error"
	}
	return resp
}

// wildcardPath returns the logical path captured by a trailing "*" route.
func wildcardPath(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
	}
	return p
}

// @Summary      List a folder
// @Description  Lists the entries of a folder, folders first.
// @Tags         files
// @Produce      json
// @Security     BearerAuth
// @Param        path   query     string  false  "Folder path, root when empty"
// @Param        sort   query     string  false  "name, size or date"  Enums(name, size, date)
// @Param        order  query     string  false  "asc or desc"         Enums(asc, desc)
// @Success      200    {object}  ListFilesResponse
// @Failure      400    {object}  ErrorResponse
// @Failure      403    {object}  ErrorResponse
// @Failure      404    {object}  ErrorResponse
// @Router       /files/ [get]
func (s *Server) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.files.List(r.Context(), actor(r), q.Get("path"), q.Get("sort"), q.Get("order"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListFilesResponse{Path: path.Clean("/" + q.Get("path")), Entries: entries})
}

// @Summary      Upload files
// @Description  Stores one or more files in a folder, creating it if needed. Name collisions get a numbered suffix. A single failed file answers with its error; batches report each file.
// @Tags         files
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        files  formData  file    true   "Files to upload"
// @Param        path   formData  string  false  "Target folder"
// @Success      201    {object}  UploadResponse
// @Success      200    {object}  UploadResponse  "Some files failed"
// @Failure      400    {object}  ErrorResponse
// @Failure      403    {object}  ErrorResponse
// @Failure      413    {object}  ErrorResponse
// @Router       /files/upload [post]
func (s *Server) UploadFilesHandler(w http.ResponseWriter, r *http.Request) {
	s.extendDeadlines(w, r, time.Now().Add(s.uploadTimeout()))
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequest)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.badRequest(w, r, "error parsing multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		s.badRequest(w, r, "no files in field \"files\"")
		return
	}
	dir := r.FormValue("path")

	resp := UploadResponse{Files: make([]UploadItem, 0, len(headers))}
	var lastErr error
	for _, fh := range headers {
		item := UploadItem{Filename: fh.Filename}
		res, err := s.uploadOne(r, dir, fh)
		if err != nil {
			lastErr = err
			item.Error = itemError(err)
			resp.Failed++
		} else {
			item.Entry = &res.Entry
			item.Renamed = res.Renamed
			resp.Succeeded++
			uploadedBytesTotal.Add(float64(res.Entry.Size))
		}
		resp.Files = append(resp.Files, item)
	}

	switch {
	case len(headers) == 1 && lastErr != nil:
		s.writeError(w, r, lastErr)
	case resp.Failed == 0:
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// extendDeadlines lifts the server-wide read and write deadlines for a
// request that streams a large body.
func (s *Server) extendDeadlines(w http.ResponseWriter, r *http.Request, deadline time.Time) {
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.requestLog(r).Warn("cannot extend read deadline", zap.Error(err))
	}
	if err := rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.requestLog(r).Warn("cannot extend write deadline", zap.Error(err))
	}
}

func (s *Server) uploadOne(r *http.Request, dir string, fh *multipart.FileHeader) (*files.UploadResult, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.files.Upload(r.Context(), actor(r), dir, fh.Filename, fh.Size, f)
}

// @Summary      Create a folder
// @Tags         files
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        createFolderRequest  body      CreateFolderRequest  true  "Parent folder and name"
// @Success      201                  {object}  models.FileEntry
// @Failure      400                  {object}  ErrorResponse
// @Failure      404                  {object}  ErrorResponse
// @Failure      409                  {object}  ErrorResponse
// @Router       /files/folder [post]
func (s *Server) CreateFolderHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	entry, err := s.files.CreateFolder(r.Context(), actor(r), req.Path, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// @Summary      Delete a file or folder
// @Description  Deletes a file, or a folder with everything below it, and frees its quota.
// @Tags         files
// @Produce      json
// @Security     BearerAuth
// @Param        path  path      string  true  "Path of the entry"
// @Success      200   {object}  DeleteResponse
// @Failure      403   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /files/{path} [delete]
func (s *Server) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	p := wildcardPath(r)
	freed, err := s.files.Delete(r.Context(), actor(r), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Path: path.Clean("/" + p), FreedBytes: freed})
}

// @Summary      Rename a file or folder
// @Tags         files
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        renameRequest  body      RenameRequest  true  "Entry and its new name"
// @Success      200            {object}  models.FileEntry
// @Failure      400            {object}  ErrorResponse
// @Failure      404            {object}  ErrorResponse
// @Failure      409            {object}  ErrorResponse
// @Router       /files/rename [post]
func (s *Server) RenameHandler(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	entry, err := s.files.Rename(r.Context(), actor(r), req.Path, req.NewName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// @Summary      Move or copy entries
// @Description  Moves or copies every source into the destination folder. Items fail independently and are reported one by one.
// @Tags         files
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        pasteRequest  body      PasteRequest  true  "Sources, destination and operation"
// @Success      200           {object}  PasteResponse
// @Failure      400           {object}  ErrorResponse
// @Failure      404           {object}  ErrorResponse
// @Router       /files/paste [post]
func (s *Server) PasteHandler(w http.ResponseWriter, r *http.Request) {
	var req PasteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		results []files.ItemResult
		err     error
	)
	switch req.Operation {
	case "move", "cut":
		req.Operation = "move"
		results, err = s.files.Move(r.Context(), actor(r), req.Sources, req.Destination)
	case "copy":
		results, err = s.files.Copy(r.Context(), actor(r), req.Sources, req.Destination)
	default:
		s.badRequest(w, r, "operation must be move or copy")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := PasteResponse{Operation: req.Operation, Results: make([]PasteItem, 0, len(results))}
	for _, res := range results {
		item := PasteItem{Source: res.Source, Error: itemError(res.Err)}
		if res.OK() {
			item.Target = "/" + res.Target
			resp.Succeeded++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// @Summary      Download a file
// @Description  Streams a stored file. Range requests are supported.
// @Tags         files
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        path    path      string  true   "Path of the file"
// @Param        inline  query     bool    false  "Display in the browser instead of downloading"
// @Success      200     {file}    file
// @Failure      400     {object}  ErrorResponse
// @Failure      404     {object}  ErrorResponse
// @Router       /files/download/{path} [get]
func (s *Server) DownloadFileHandler(w http.ResponseWriter, r *http.Request) {
	f, entry, err := s.files.Open(r.Context(), actor(r), wildcardPath(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	serveFile(w, r, f, entry)
}

// serveFile streams an opened file and closes it.
func serveFile(w http.ResponseWriter, r *http.Request, f io.ReadSeekCloser, entry *models.FileEntry) {
	defer f.Close()

	disposition := "attachment"
	if inline, _ := strconv.ParseBool(r.URL.Query().Get("inline")); inline {
		disposition = "inline"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": entry.Name}))
	if entry.MimeType != "" {
		w.Header().Set("Content-Type", entry.MimeType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")

	http.ServeContent(w, r, entry.Name, entry.ModifiedAt, f)
}

// @Summary      Get a thumbnail
// @Description  Returns the JPEG preview of an image file once it has been generated.
// @Tags         files
// @Produce      jpeg
// @Security     BearerAuth
// @Param        path  path      string  true  "Path of the image"
// @Success      200   {file}    file
// @Failure      404   {object}  ErrorResponse
// @Router       /files/thumbnail/{path} [get]
func (s *Server) ThumbnailHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.files.Thumbnail(r.Context(), actor(r), wildcardPath(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// @Summary      Search files
// @Description  Finds files whose name contains the query, optionally within one category.
// @Tags         files
// @Produce      json
// @Security     BearerAuth
// @Param        q         query     string  true   "At least 2 characters"
// @Param        category  query     string  false  "image, video, audio, document, archive, code or other"
// @Success      200       {array}   models.FileEntry
// @Failure      400       {object}  ErrorResponse
// @Router       /files/search [get]
func (s *Server) SearchFilesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.files.Search(r.Context(), actor(r), q.Get("q"), q.Get("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
