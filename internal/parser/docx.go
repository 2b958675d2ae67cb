package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

const docxBody = "word/document.xml"

// ExtractDOCX reads the main document part of a .docx package. Paragraphs
// become lines; table cells are joined with " | " per row.
func ExtractDOCX(data []byte, limits Limits) (Result, error) {
	limits = limits.withDefaults()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, &Error{Code: ParseFailed(KindDOCX), Err: err}
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			part = f
			break
		}
	}
	if part == nil {
		return Result{}, &Error{Code: ParseFailed(KindDOCX), Err: eris.New("docx: missing word/document.xml")}
	}
	rc, err := part.Open()
	if err != nil {
		return Result{}, &Error{Code: ParseFailed(KindDOCX), Err: err}
	}
	defer rc.Close() //nolint:errcheck

	w := &docxWalker{limits: limits}
	if err := w.walk(xml.NewDecoder(rc)); err != nil {
		return Result{}, err
	}
	return finish(strings.TrimSpace(w.out.String()), limits), nil
}

type docxWalker struct {
	limits Limits
	out    strings.Builder

	para    strings.Builder
	row     []string
	inTable int
	rows    int
	cells   int
}

func (w *docxWalker) walk(dec *xml.Decoder) error {
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &Error{Code: ParseFailed(KindDOCX), Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				w.para.WriteString("\t")
			case "br", "cr":
				w.para.WriteString("\n")
			case "tbl":
				w.inTable++
			case "tr":
				w.row = w.row[:0]
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if err := w.endParagraph(); err != nil {
					return err
				}
			case "tc":
				w.cells++
				if w.cells > w.limits.MaxCells {
					return &LimitError{Code: CodeMaxCells, Limit: w.limits.MaxCells}
				}
				w.row = append(w.row, strings.TrimSpace(w.para.String()))
				w.para.Reset()
			case "tr":
				if err := w.emit(strings.Join(w.row, " | ")); err != nil {
					return err
				}
			case "tbl":
				w.inTable--
			}
		case xml.CharData:
			if inText {
				w.para.Write(t)
			}
		}
	}
}

// endParagraph flushes a body paragraph. Inside a table cell paragraphs
// accumulate until the cell closes.
func (w *docxWalker) endParagraph() error {
	if w.inTable > 0 {
		w.para.WriteString(" ")
		return nil
	}
	line := w.para.String()
	w.para.Reset()
	return w.emit(line)
}

func (w *docxWalker) emit(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.Trim(line, "| ") == "" {
		return nil
	}
	w.rows++
	if w.rows > w.limits.MaxRows {
		return &LimitError{Code: CodeMaxRows, Limit: w.limits.MaxRows}
	}
	w.out.WriteString(line)
	w.out.WriteString("\n")
	return nil
}
