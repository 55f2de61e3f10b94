package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lukehanabi/audio-to-doc/internal/transcription"
)

const (
	reportTitle = "Audio Transcription Report"
	footerText  = "Generated by Audio to Text Conversion Service (Offline)"
	unknown     = "Unknown"
)

// BlockKind identifies how a block is laid out.
type BlockKind int

const (
	KindHeading BlockKind = iota
	KindParagraph
	KindTable
)

// Alignment of a paragraph.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
)

// Run is a span of uniformly formatted text.
type Run struct {
	Text string
	Bold bool
}

// Block is one element of a report body, in document order.
type Block struct {
	Kind  BlockKind
	Level int // heading level, 0 is the document title
	Runs  []Run
	Align Alignment
	Rows  [][]string // table rows, the first is the header
}

// Text returns the concatenated run text.
func (b Block) Text() string {
	var sb strings.Builder
	for _, r := range b.Runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// Document is a renderer-independent report.
type Document struct {
	Blocks []Block
}

// FileMeta describes the uploaded file the report is about.
type FileMeta struct {
	Filename string
	Size     int64 // bytes
}

func (d *Document) heading(level int, text string) {
	d.Blocks = append(d.Blocks, Block{Kind: KindHeading, Level: level, Runs: []Run{{Text: text}}})
}

func (d *Document) paragraph(runs ...Run) {
	d.Blocks = append(d.Blocks, Block{Kind: KindParagraph, Runs: runs})
}

func (d *Document) text(text string) {
	d.paragraph(Run{Text: text})
}

func (d *Document) table(header []string, rows ...[]string) {
	all := make([][]string, 0, len(rows)+1)
	all = append(all, header)
	all = append(all, rows...)
	d.Blocks = append(d.Blocks, Block{Kind: KindTable, Rows: all})
}

// Build lays out the report for result. The output depends only on its
// arguments, so a fixed now gives an identical document.
func Build(result *transcription.Result, meta FileMeta, now time.Time) *Document {
	doc := &Document{}
	doc.heading(0, reportTitle)

	doc.heading(1, "Document Information")
	doc.table([]string{"Property", "Value"},
		[]string{"Original File", meta.Filename},
		[]string{"Transcription Date", now.Format(time.RFC3339)},
		[]string{"Service Used", orUnknown(result.ServiceUsed)},
		[]string{"Language Detected", orUnknown(result.LanguageDetected)},
		[]string{"Confidence Score", fmt.Sprintf("%.2f", result.Confidence)},
		[]string{"File Size", fmt.Sprintf("%.2f MB", float64(meta.Size)/1024/1024)},
	)

	doc.heading(1, "Transcription")
	switch {
	case !result.Success:
		msg := result.Error
		if msg == "" {
			msg = "Unknown error"
		}
		doc.paragraph(Run{Text: "Transcription Failed: ", Bold: true}, Run{Text: msg})
		if len(result.SupportedLanguages) > 0 {
			doc.text("Supported languages: " + strings.Join(result.SupportedLanguages, ", "))
		}
	case len(result.Segments) > 0:
		buildSegments(doc, result.Segments)
		if result.Note != "" {
			doc.text("Note: " + result.Note)
		}
	default:
		doc.text(result.Text)
		if result.Note != "" {
			doc.text("Note: " + result.Note)
		}
	}

	doc.text("")
	doc.Blocks = append(doc.Blocks, Block{Kind: KindParagraph, Runs: []Run{{Text: footerText}}, Align: AlignCenter})

	return doc
}

type speakerTotals struct {
	speaker    string
	duration   float64
	words      int
	confidence float64
	segments   int
}

func buildSegments(doc *Document, segments []transcription.SpeakerSegment) {
	doc.heading(2, "Speaker-Based Transcription")

	var order []*speakerTotals
	bySpeaker := make(map[string]*speakerTotals)

	for _, seg := range segments {
		doc.paragraph(
			Run{Text: seg.Speaker + " ", Bold: true},
			Run{Text: fmt.Sprintf("(%.1fs - %.1fs, %.1fs)", seg.Start, seg.End, seg.Duration)},
		)
		doc.text(seg.Text)
		doc.text(fmt.Sprintf("Confidence: %.2f", seg.Confidence))
		doc.text("")

		t, ok := bySpeaker[seg.Speaker]
		if !ok {
			t = &speakerTotals{speaker: seg.Speaker}
			bySpeaker[seg.Speaker] = t
			order = append(order, t)
		}
		t.duration += seg.Duration
		t.words += len(strings.Fields(seg.Text))
		t.confidence += seg.Confidence
		t.segments++
	}

	doc.heading(2, "Speaker Summary")
	rows := make([][]string, 0, len(order))
	for _, t := range order {
		rows = append(rows, []string{
			t.speaker,
			fmt.Sprintf("%.1f", t.duration),
			strconv.Itoa(t.words),
			fmt.Sprintf("%.2f", t.confidence/float64(t.segments)),
		})
	}
	doc.table([]string{"Speaker", "Duration (s)", "Words", "Avg Confidence"}, rows...)
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
