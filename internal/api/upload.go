package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/synthex/internal/relay"
)

// formOverhead is the room left for multipart framing and the other form
// fields on top of the file itself.
const formOverhead = 64 << 10

var uploadLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".java": "java",
	".cpp":  "cpp",
	".h":    "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
}

// LanguageForFile maps a source file name to its language by extension.
func LanguageForFile(name string) (string, bool) {
	lang, ok := uploadLanguages[strings.ToLower(filepath.Ext(name))]
	return lang, ok
}

// handleExplainUpload explains an uploaded source file. The file arrives in
// the multipart field "file"; the other explain options are plain form
// fields. Language comes from the file extension unless given explicitly.
func handleExplainUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+formOverhead)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(deps.MaxUploadBytes); err != nil {
			uploadParseError(w, err, deps.MaxUploadBytes)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeResult(w, relay.Err(&relay.ValidationError{Field: "file", Reason: "is required"}))
			return
		}
		defer file.Close()

		if header.Size > deps.MaxUploadBytes {
			httpError(w, http.StatusRequestEntityTooLarge, "file exceeds %d bytes", deps.MaxUploadBytes)
			return
		}
		lang, ok := LanguageForFile(header.Filename)
		if !ok {
			writeResult(w, relay.Err(&relay.ValidationError{
				Field:  "file",
				Reason: "has unsupported extension " + strconv.Quote(filepath.Ext(header.Filename)),
			}))
			return
		}

		content, err := io.ReadAll(io.LimitReader(file, deps.MaxUploadBytes+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "reading file: %v", err)
			return
		}
		if int64(len(content)) > deps.MaxUploadBytes {
			httpError(w, http.StatusRequestEntityTooLarge, "file exceeds %d bytes", deps.MaxUploadBytes)
			return
		}
		if !utf8.Valid(content) {
			writeResult(w, relay.Err(&relay.ValidationError{Field: "file", Reason: "is not valid UTF-8 text"}))
			return
		}

		req := relay.ExplainRequest{
			Code:       string(content),
			Language:   lang,
			Difficulty: r.FormValue("difficulty"),
			LineByLine: formBool(r, "line_by_line"),
			Provider:   r.FormValue("provider"),
		}
		if v := r.FormValue("language"); v != "" {
			req.Language = v
		}
		if v := r.Form["focus_areas"]; len(v) > 0 {
			req.FocusAreas = v
		}
		if v := r.FormValue("include_examples"); v != "" {
			b := formBool(r, "include_examples")
			req.IncludeExamples = &b
		}

		if err := req.Validate(); err != nil {
			writeResult(w, relay.Err(err))
			return
		}
		writeResult(w, deps.Relay.Explain(r.Context(), req))
	}
}

func uploadParseError(w http.ResponseWriter, err error, limit int64) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
		httpError(w, http.StatusRequestEntityTooLarge, "file exceeds %d bytes", limit)
		return
	}
	httpError(w, http.StatusBadRequest, "invalid multipart form: %v", err)
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}
