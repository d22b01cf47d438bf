package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Section is the raw text of one page, slide or sheet of a local file.
type Section struct {
	Content    string
	PageNumber int
}

const defaultPageNumber = 1

// SupportedExtensions lists the local file formats ParseFile understands.
var SupportedExtensions = []string{".txt", ".md", ".markdown", ".html", ".htm", ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx"}

// ParseFile extracts plain text from a local file, dispatching on its extension.
func ParseFile(filePath string) ([]Section, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".txt", "":
		return parseText(filePath)
	case ".md", ".markdown":
		return parseMarkdown(filePath)
	case ".html", ".htm":
		return parseHTML(filePath)
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm", ".xltx":
		return parseWorkbook(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// ExtractText returns the text of the elements matching any of the selectors,
// in document order. Elements nested inside another match are only counted
// once. With no selectors the whole body is returned.
func ExtractText(r io.Reader, selectors []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse markup: %w", err)
	}

	if len(selectors) == 0 {
		sel := doc.Find("body")
		if sel.Length() == 0 {
			sel = doc.Selection
		}
		return strings.TrimSpace(sel.Text()), nil
	}

	joined := strings.Join(selectors, ", ")
	var parts []string
	doc.Find(joined).
		FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ParentsFiltered(joined).Length() == 0
		}).
		Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				parts = append(parts, text)
			}
		})
	return strings.Join(parts, "\n\n"), nil
}

func parseText(filePath string) ([]Section, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return single(string(data)), nil
}

func parseMarkdown(filePath string) ([]Section, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	text, err := markdownToText(data)
	if err != nil {
		return nil, err
	}
	return single(text), nil
}

func parseHTML(filePath string) ([]Section, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := ExtractText(f, nil)
	if err != nil {
		return nil, err
	}
	return single(text), nil
}

func parsePDF(filePath string) ([]Section, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var sections []Section
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		sections = append(sections, Section{Content: pageText, PageNumber: i})
	}
	return sections, nil
}

func parseDOCX(filePath string) ([]Section, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent hands back word/document.xml
	text, err := extractTextFromXML(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	return single(text), nil
}

func parsePPTX(filePath string) ([]Section, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var slides []*zip.File
	for _, file := range f.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			slides = append(slides, file)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		return slideNumber(slides[i].Name) < slideNumber(slides[j].Name)
	})

	var sections []Section
	for _, file := range slides {
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slideText, err := extractTextFromXML(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
		if strings.TrimSpace(slideText) != "" {
			sections = append(sections, Section{Content: slideText, PageNumber: slideNumber(file.Name)})
		}
	}
	return sections, nil
}

func parseXLSX(filePath string) ([]Section, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var sections []Section
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		sections = append(sections, Section{Content: text.String(), PageNumber: sheetNum + 1})
	}
	return sections, nil
}

func parseWorkbook(filePath string) ([]Section, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sections []Section
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		sections = append(sections, Section{Content: text.String(), PageNumber: sheetNum + 1})
	}
	return sections, nil
}

func markdownToText(source []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(source, &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return ExtractText(&buf, nil)
}

// extractTextFromXML collects <*:t> runs of Office XML, one line per <*:p> paragraph.
func extractTextFromXML(xmlContent string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(xmlContent))
	var text strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return strings.TrimSpace(text.String()), nil
}

func slideNumber(name string) int {
	base := strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml")
	n := 0
	for _, r := range base {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func single(text string) []Section {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []Section{{Content: text, PageNumber: defaultPageNumber}}
}
