// Package kb loads and ranks the FAQ knowledge base.
//
// Knowledge documents are plain text outlines: a line starting with "## "
// begins a section, a line starting with "- " and containing a colon is one
// "question: answer" entry. The document format is a serialization external
// tools rely on; the parsed FaqEntry list is the real data model.
package kb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

const (
	// CustomFileName is the shared operator-curated document, loaded for every category.
	CustomFileName = "custom.md"

	sectionMarker = "## "
	bulletMarker  = "- "
)

// Loader reads knowledge documents from a directory, one file per category
// plus the shared custom document.
type Loader struct {
	dir string
}

// NewLoader creates a Loader rooted at the given knowledge directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load parses the category document and the shared custom document, marking
// custom entries IsCustom. Missing documents are not an error: Load returns
// whatever was found, possibly nothing.
func (l *Loader) Load(category string) []models.FaqEntry {
	entries := l.loadFile(l.categoryPath(category), false)
	entries = append(entries, l.loadFile(l.customPath(), true)...)
	slog.Debug("Loader knowledge base assembled", "category", category, "entries", len(entries))
	return entries
}

func (l *Loader) categoryPath(category string) string {
	return filepath.Join(l.dir, category+".md")
}

func (l *Loader) customPath() string {
	return filepath.Join(l.dir, CustomFileName)
}

func (l *Loader) loadFile(path string, custom bool) []models.FaqEntry {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Loader knowledge document missing", "path", path)
		} else {
			slog.Warn("Loader failed to read knowledge document", "error", err, "path", path)
		}
		return nil
	}
	return parseDocument(string(data), custom)
}

// parseDocument walks the outline line by line. Bullet lines without a colon
// are silently skipped; lines that are neither section headers nor bullets are
// ignored.
func parseDocument(content string, custom bool) []models.FaqEntry {
	var entries []models.FaqEntry
	var section string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, sectionMarker):
			section = strings.TrimSpace(trimmed[len(sectionMarker):])
		case strings.HasPrefix(trimmed, bulletMarker):
			rest := trimmed[len(bulletMarker):]
			idx := strings.Index(rest, ":")
			if idx < 0 {
				continue
			}
			entries = append(entries, models.FaqEntry{
				Section:  section,
				Question: strings.TrimSpace(rest[:idx]),
				Answer:   strings.TrimSpace(rest[idx+1:]),
				IsCustom: custom,
			})
		}
	}
	return entries
}

// AppendCustom adds an operator-curated entry to the shared custom document.
// If the section header does not exist it is created at the end of the
// document; otherwise the new bullet is inserted immediately before the next
// section header, or at end-of-file when it is the last section.
func (l *Loader) AppendCustom(section, question, answer string) error {
	if strings.TrimSpace(section) == "" {
		return models.ErrEmptySection
	}
	if strings.TrimSpace(question) == "" {
		return models.ErrEmptyQuestion
	}
	if strings.TrimSpace(answer) == "" {
		return models.ErrEmptyAnswer
	}

	path := l.customPath()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read custom document: %w", err)
	}

	bullet := fmt.Sprintf("%s%s: %s", bulletMarker, question, answer)
	updated := insertEntry(string(data), section, bullet)

	if err := writeDocumentAtomic(path, updated); err != nil {
		return err
	}
	slog.Info("Loader custom entry appended", "section", section, "question", question)
	return nil
}

// insertEntry places the bullet line inside the named section of the document,
// creating the section at the end when absent.
func insertEntry(content, section, bullet string) string {
	header := sectionMarker + section

	if strings.TrimSpace(content) == "" {
		return header + "\n" + bullet + "\n"
	}

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	sectionAt := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, sectionMarker) &&
			strings.TrimSpace(trimmed[len(sectionMarker):]) == section {
			sectionAt = i
			break
		}
	}

	if sectionAt < 0 {
		lines = append(lines, "", header, bullet)
		return strings.Join(lines, "\n") + "\n"
	}

	insertAt := len(lines)
	for i := sectionAt + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), sectionMarker) {
			insertAt = i
			break
		}
	}

	lines = append(lines[:insertAt], append([]string{bullet}, lines[insertAt:]...)...)
	return strings.Join(lines, "\n") + "\n"
}

// writeDocumentAtomic writes content via a temp file and rename so a crashed
// writer never leaves a truncated document behind.
func writeDocumentAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create knowledge directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".kb-*.md")
	if err != nil {
		return fmt.Errorf("failed to create temp knowledge document: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp knowledge document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp knowledge document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace knowledge document: %w", err)
	}
	return nil
}
