package services

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// ErrNeedsOCR is returned for files that parse but carry no text layer (scanned PDFs).
var ErrNeedsOCR = errors.New("document has no text layer")

type ExtractorService interface {
	IsDirectlyParseable(filename string) bool
	Extract(filename string, data []byte) (*ExtractedContent, error)
}

type ExtractedContent struct {
	Text      string
	PageCount int
	Format    string
}

type extractorService struct{}

func NewExtractorService() ExtractorService {
	return &extractorService{}
}

func (e *extractorService) IsDirectlyParseable(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".xlsx", ".txt", ".md", ".csv":
		return true
	default:
		return false
	}
}

func (e *extractorService) Extract(filename string, data []byte) (*ExtractedContent, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return extractPDF(data)
	case ".xlsx":
		return extractSpreadsheet(data)
	case ".txt", ".md", ".csv":
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("file is not valid UTF-8 text")
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, fmt.Errorf("no text content found in file")
		}
		return &ExtractedContent{Text: text, PageCount: 1, Format: strings.TrimPrefix(ext, ".")}, nil
	default:
		return nil, fmt.Errorf("unsupported format for direct extraction: %s", ext)
	}
}

func extractPDF(data []byte) (*ExtractedContent, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var textBuilder strings.Builder
	totalPage := r.NumPage()

	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := r.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Log error but continue with other pages
			continue
		}

		textBuilder.WriteString(fmt.Sprintf("--- Page %d ---\n", pageIndex))
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	text := textBuilder.String()
	if !hasLetters(text) {
		return nil, ErrNeedsOCR
	}

	return &ExtractedContent{
		Text:      text,
		PageCount: totalPage,
		Format:    "pdf",
	}, nil
}

func extractSpreadsheet(data []byte) (*ExtractedContent, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var textBuilder strings.Builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}

		textBuilder.WriteString(fmt.Sprintf("--- Sheet %s ---\n", sheet))
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " | "))
			if line != "" {
				textBuilder.WriteString(line)
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}

	text := textBuilder.String()
	if !hasLetters(text) {
		return nil, fmt.Errorf("no text content found in spreadsheet")
	}

	return &ExtractedContent{Text: text, PageCount: len(sheets), Format: "xlsx"}, nil
}

// hasLetters ignores the page/sheet markers we add ourselves.
func hasLetters(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--- ") {
			continue
		}
		return true
	}
	return false
}

// Helper function to clean and normalize text
func CleanText(text string) string {
	// Remove excessive whitespace
	text = strings.TrimSpace(text)

	// Replace multiple newlines with double newline
	lines := strings.Split(text, "\n")
	var cleanedLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanedLines = append(cleanedLines, line)
		}
	}

	return strings.Join(cleanedLines, "\n")
}
