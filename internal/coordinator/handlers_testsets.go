package coordinator

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/secchiware/coordinator/internal/httputil"
	"github.com/secchiware/coordinator/internal/repository"
)

// ListAvailableTestSets handles GET /test_sets: unauthenticated, served
// entirely from the repository's cache mirror. Grounded on routes.py's
// list_available_test_sets.
func (d *Deps) ListAvailableTestSets(w http.ResponseWriter, r *http.Request) {
	entries, err := d.Repository.ListAvailable(r.Context())
	if err != nil {
		httputil.InternalError(w, "failed to list available test sets")
		return
	}
	writeManifestArray(w, entries)
}

// UploadTestSets handles PATCH /test_sets: client-signed, Digest-bound,
// multipart. Grounded on routes.py's upload_test_sets; the validation
// order (content type, then digest, then the "packages" part, then
// signature) matches the original exactly.
func (d *Deps) UploadTestSets(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		httputil.UnsupportedMediaType(w, "invalid request's content type")
		return
	}

	body, ok := d.readBody(w, r, d.Config.MultipartLimit)
	if !ok {
		return
	}
	if !d.requireDigest(w, r, body) {
		return
	}

	boundary, ok := params["boundary"]
	if !ok {
		httputil.BadRequest(w, "'packages' key not found in request's body")
		return
	}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	var archive []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			httputil.BadRequest(w, "invalid request body")
			return
		}
		if part.FormName() == "packages" {
			archive, err = io.ReadAll(part)
			part.Close()
			if err != nil {
				httputil.BadRequest(w, "invalid request body")
				return
			}
			break
		}
		part.Close()
	}
	if archive == nil {
		httputil.BadRequest(w, "'packages' key not found in request's body")
		return
	}

	if !d.requireClientAuth(w, r, "Digest") {
		return
	}

	touched, err := d.Repository.Install(r.Context(), bytes.NewReader(archive))
	if errors.Is(err, repository.ErrInvalidArchive) {
		httputil.BadRequest(w, "invalid file content")
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to install test sets")
		return
	}
	if d.Metrics != nil {
		d.Metrics.ObserveArchiveBytes(len(archive))
	}
	_ = touched

	httputil.NoContent(w)
}

// DeleteTestSet handles DELETE /test_sets/{pkg}: client-signed. Grounded
// on routes.py's delete_package.
func (d *Deps) DeleteTestSet(w http.ResponseWriter, r *http.Request) {
	if !d.requireClientAuth(w, r) {
		return
	}
	pkg := mux.Vars(r)["pkg"]

	err := d.Repository.Remove(r.Context(), pkg)
	if errors.Is(err, repository.ErrPackageNotFound) {
		httputil.NotFound(w, "package '"+pkg+"' not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to remove package")
		return
	}
	httputil.NoContent(w)
}
