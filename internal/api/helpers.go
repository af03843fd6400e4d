package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"petitions/internal/actions"
	"petitions/internal/failure"
	"petitions/internal/models"
	"petitions/internal/txflow"
	"petitions/internal/upload"
)

// parseCategory accepts a numeric code or a category label
func parseCategory(raw string) (int, bool) {
	if n, err := strconv.Atoi(raw); err == nil {
		if _, ok := models.CategoryFromCode(uint64(n)); ok && n >= 0 {
			return n, true
		}
		return 0, false
	}
	code, ok := models.CategoryCode(models.Category(strings.ToUpper(strings.TrimSpace(raw))))
	return int(code), ok
}

func isTruthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// parseDate accepts RFC 3339, a plain date, or unix seconds
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// parseTags accepts a JSON array or a comma separated list
func parseTags(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}
	var tags []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, fmt.Errorf("invalid tags: %w", err)
		}
		return tags, nil
	}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

// DraftFromForm builds a draft from the create form. Field names follow the
// dApp form: title, description, richTextContent, category, tags,
// targetSignatures, startDate, endDate, coverImage, documents.
func DraftFromForm(form *multipart.Form) (*upload.Draft, error) {
	get := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	d := &upload.Draft{
		Title:       get("title"),
		Description: get("description"),
		RichText:    get("richTextContent"),
		Creator:     get("creator"),
	}

	category := get("category")
	if code, ok := parseCategory(category); ok {
		d.Category, _ = models.CategoryFromCode(uint64(code))
	} else {
		d.Category = models.Category(category)
	}

	var err error
	if d.Tags, err = parseTags(get("tags")); err != nil {
		return nil, err
	}

	if raw := get("targetSignatures"); raw != "" {
		if d.TargetSignatures, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid targetSignatures: %q", raw)
		}
	}

	if d.StartDate, err = parseDate(get("startDate")); err != nil {
		return nil, fmt.Errorf("invalid startDate: %w", err)
	}
	if d.EndDate, err = parseDate(get("endDate")); err != nil {
		return nil, fmt.Errorf("invalid endDate: %w", err)
	}

	if files := form.File["coverImage"]; len(files) > 0 {
		f, err := readFile(files[0])
		if err != nil {
			return nil, err
		}
		d.Image = &f
	}
	for _, fh := range form.File["documents"] {
		f, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		d.Documents = append(d.Documents, f)
	}

	return d, nil
}

func readFile(fh *multipart.FileHeader) (upload.File, error) {
	if fh.Size > upload.MaxFileBytes {
		return upload.File{}, fmt.Errorf("%s is larger than 500KB", fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return upload.File{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, upload.MaxFileBytes+1))
	if err != nil {
		return upload.File{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return upload.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// outcomeStatus maps a terminal action state onto an HTTP status
func outcomeStatus(out *actions.Outcome, okCode int) int {
	switch out.Status {
	case txflow.Succeeded:
		return okCode
	case txflow.TimedOut:
		return http.StatusAccepted
	}

	switch out.Kind {
	case failure.Throttled:
		return http.StatusTooManyRequests
	case failure.NetworkError, failure.StorageError:
		return http.StatusBadGateway
	case failure.DuplicateAction:
		return http.StatusConflict
	case failure.UnknownError:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}
