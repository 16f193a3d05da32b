package report

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"image/png"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
)

//go:embed templates/serial_sheet.html
var templates embed.FS

const (
	labelsPerRow  = 3
	rowsPerPage   = 8
	barcodeWidth  = 384
	barcodeHeight = 192
)

// PDFClient is the part of Client the sheet renderer needs.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Sheet describes one printable label sheet for a received batch.
type Sheet struct {
	BatchNumber string
	PartNumber  string
	GeneratedAt time.Time
	Serials     []string
}

// Label is one barcode cell on the sheet.
type Label struct {
	Serial  string
	Barcode template.URL
}

type sheetPage struct {
	Rows [][]Label
}

type sheetData struct {
	BatchNumber string
	PartNumber  string
	GeneratedAt time.Time
	Count       int
	Pages       []sheetPage
}

var (
	// ErrEmptySheet rejects a sheet without serials.
	ErrEmptySheet = errors.New("report: no serials to print")
	// ErrUnprintable rejects a serial outside the Code 128 character set.
	ErrUnprintable = errors.New("report: serial cannot be printed as code 128")
)

// SheetRenderer lays serials out as Code 128 labels, three per row and eight
// rows per page, and converts the page to PDF.
type SheetRenderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewSheetRenderer parses the sheet template and wires the PDF client.
func NewSheetRenderer(client PDFClient) (*SheetRenderer, error) {
	if client == nil {
		return nil, errors.New("report: pdf client required")
	}
	funcMap := template.FuncMap{
		"formatTime": func(t time.Time) string { return t.Format("02 Jan 2006 15:04 MST") },
	}
	tpl, err := template.New("serial_sheet.html").Funcs(funcMap).ParseFS(templates, "templates/serial_sheet.html")
	if err != nil {
		return nil, err
	}
	return &SheetRenderer{tpl: tpl, client: client}, nil
}

// HTML executes the template without converting it.
func (r *SheetRenderer) HTML(sheet Sheet) (string, error) {
	if len(sheet.Serials) == 0 {
		return "", ErrEmptySheet
	}
	data := sheetData{
		BatchNumber: sheet.BatchNumber,
		PartNumber:  sheet.PartNumber,
		GeneratedAt: sheet.GeneratedAt,
		Count:       len(sheet.Serials),
	}
	var page sheetPage
	var row []Label
	for _, serial := range sheet.Serials {
		img, err := BarcodeDataURI(serial)
		if err != nil {
			return "", err
		}
		row = append(row, Label{Serial: serial, Barcode: img})
		if len(row) == labelsPerRow {
			page.Rows = append(page.Rows, row)
			row = nil
		}
		if len(page.Rows) == rowsPerPage {
			data.Pages = append(data.Pages, page)
			page = sheetPage{}
		}
	}
	if len(row) > 0 {
		page.Rows = append(page.Rows, row)
	}
	if len(page.Rows) > 0 {
		data.Pages = append(data.Pages, page)
	}

	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render produces the PDF label sheet.
func (r *SheetRenderer) Render(ctx context.Context, sheet Sheet) ([]byte, error) {
	if r == nil || r.tpl == nil || r.client == nil {
		return nil, errors.New("report: sheet renderer not initialised")
	}
	html, err := r.HTML(sheet)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

// BarcodeDataURI encodes serial as a Code 128 PNG inlined as a data URI.
func BarcodeDataURI(serial string) (template.URL, error) {
	code, err := code128.Encode(serial)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnprintable, serial, err)
	}
	scaled, err := barcode.Scale(code, barcodeWidth, barcodeHeight)
	if err != nil {
		return "", fmt.Errorf("report: scale %q: %w", serial, err)
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, scaled); err != nil {
		return "", err
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}
