package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
	"github.com/gomutex/godocx/wml/stypes"
)

// ContentTypeDocx is the MIME type of WordprocessingML documents.
const ContentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// tableStyle is the bordered grid style shipped in the default template.
const tableStyle = "TableGrid"

// Renderer serializes a Document.
type Renderer interface {
	Render(w io.Writer, doc *Document) error
	Extension() string
	ContentType() string
}

// DocxRenderer lays a Document out with godocx. The package is staged in
// TempDir (the system default when empty) and streamed to the writer.
type DocxRenderer struct {
	TempDir string
}

// Extension implements Renderer.
func (DocxRenderer) Extension() string { return ".docx" }

// ContentType implements Renderer.
func (DocxRenderer) ContentType() string { return ContentTypeDocx }

// Render implements Renderer.
func (r DocxRenderer) Render(w io.Writer, doc *Document) error {
	rd, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	for i, b := range doc.Blocks {
		switch b.Kind {
		case KindHeading:
			if _, err := rd.AddHeading(b.Text(), uint(b.Level)); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
		case KindParagraph:
			addParagraphs(rd, b)
		case KindTable:
			addTable(rd, b.Rows)
		default:
			return fmt.Errorf("block %d: unknown kind %d", i, b.Kind)
		}
	}

	return r.write(w, rd)
}

func (r DocxRenderer) write(w io.Writer, rd *docx.RootDoc) error {
	tmp, err := os.CreateTemp(r.TempDir, "report-*.docx")
	if err != nil {
		return fmt.Errorf("failed to stage document: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := rd.SaveTo(path); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to reopen document: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// addParagraphs emits one paragraph per line of the block's runs, so a run
// holding "a\n\nb" becomes two text paragraphs around an empty one.
func addParagraphs(rd *docx.RootDoc, b Block) {
	var p *docx.Paragraph
	open := func() {
		p = rd.AddParagraph("")
		if b.Align == AlignCenter {
			p.Justification(stypes.JustificationCenter)
		}
	}
	open()

	for _, run := range b.Runs {
		for i, line := range strings.Split(run.Text, "\n") {
			if i > 0 {
				open()
			}
			if line == "" {
				continue
			}
			text := p.AddText(line)
			if run.Bold {
				text.Bold(true)
			}
		}
	}
}

func addTable(rd *docx.RootDoc, rows [][]string) {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	tbl := rd.AddTable()
	tbl.Style(tableStyle)
	for _, row := range rows {
		tr := tbl.AddRow()
		for c := 0; c < cols; c++ {
			cell := ""
			if c < len(row) {
				cell = row[c]
			}
			tr.AddCell().AddParagraph(cell)
		}
	}
}
