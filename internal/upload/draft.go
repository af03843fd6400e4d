package upload

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"petitions/internal/models"
)

// Draft limits
const (
	MinTitleLen       = 10
	MaxTitleLen       = 200
	MinDescriptionLen = 50
	MaxDescriptionLen = 10000
	MinTarget         = 100
	MaxTags           = 10
	MaxDocuments      = 5
	MaxFileBytes      = 500 << 10
)

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Draft is a petition as entered by its creator, before anything is pinned
type Draft struct {
	Title            string
	Description      string
	RichText         string
	Category         models.Category
	Tags             []string
	Creator          string
	TargetSignatures uint64
	StartDate        time.Time
	EndDate          time.Time
	Image            *File
	Documents        []File
}

// ValidationError names the draft field that failed
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the draft against the creation limits
func (d *Draft) Validate() error {
	title := strings.TrimSpace(d.Title)
	if n := utf8.RuneCountInString(title); n < MinTitleLen || n > MaxTitleLen {
		return &ValidationError{"title", fmt.Sprintf("must be %d-%d characters", MinTitleLen, MaxTitleLen)}
	}

	desc := strings.TrimSpace(d.Description)
	if n := utf8.RuneCountInString(desc); n < MinDescriptionLen || n > MaxDescriptionLen {
		return &ValidationError{"description", fmt.Sprintf("must be %d-%d characters", MinDescriptionLen, MaxDescriptionLen)}
	}

	if _, ok := models.CategoryCode(d.Category); !ok {
		return &ValidationError{"category", fmt.Sprintf("unknown category %q", d.Category)}
	}

	if d.TargetSignatures < MinTarget {
		return &ValidationError{"targetSignatures", fmt.Sprintf("must be at least %d", MinTarget)}
	}

	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return &ValidationError{"dates", "start and end are required"}
	}
	if !d.EndDate.After(d.StartDate) {
		return &ValidationError{"endDate", "must be after the start date"}
	}

	if len(d.Tags) > MaxTags {
		return &ValidationError{"tags", fmt.Sprintf("at most %d", MaxTags)}
	}
	for _, tag := range d.Tags {
		if strings.TrimSpace(tag) == "" {
			return &ValidationError{"tags", "empty tag"}
		}
	}

	if d.Image != nil {
		if len(d.Image.Data) == 0 {
			return &ValidationError{"image", "empty file"}
		}
		if len(d.Image.Data) > MaxFileBytes {
			return &ValidationError{"image", "larger than 500KB"}
		}
		if !imageTypes[contentType(*d.Image)] {
			return &ValidationError{"image", "must be JPEG, PNG or WebP"}
		}
	}

	if len(d.Documents) > MaxDocuments {
		return &ValidationError{"documents", fmt.Sprintf("at most %d", MaxDocuments)}
	}
	for _, doc := range d.Documents {
		if len(doc.Data) == 0 {
			return &ValidationError{"documents", fmt.Sprintf("%s is empty", doc.Name)}
		}
		if len(doc.Data) > MaxFileBytes {
			return &ValidationError{"documents", fmt.Sprintf("%s is larger than 500KB", doc.Name)}
		}
	}

	return nil
}
