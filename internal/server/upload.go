package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

const multipartMemory = 32 << 20

// parseUpload caps the request body at the configured upload size and
// parses the multipart form. It returns the status to report on failure.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.opts.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, err
		}
		return http.StatusBadRequest, err
	}
	if r.MultipartForm == nil {
		return http.StatusBadRequest, errors.New("no files provided")
	}
	return 0, nil
}

// saveFormFile copies the first file uploaded under field into the upload
// workspace, keeping its extension so compressed inputs are recognised.
func (s *Server) saveFormFile(r *http.Request, field string) (string, string, error) {
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return "", "", fmt.Errorf("missing %q file", field)
	}
	path, err := s.saveUploadedFile(files[0])
	if err != nil {
		return "", "", err
	}
	return path, filepath.Base(files[0].Filename), nil
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (string, error) {
	if fh == nil {
		return "", fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	ext := filepath.Ext(fh.Filename)
	pattern := "upload-*"
	if ext != "" {
		pattern = fmt.Sprintf("upload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return "", err
	}
	if err := dest.Close(); err != nil {
		os.Remove(dest.Name())
		return "", err
	}
	return dest.Name(), nil
}
