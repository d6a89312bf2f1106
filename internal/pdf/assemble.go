package pdf

import (
	"bytes"
	"image"
	_ "image/png"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/m-mizutani/goerr/v2"

	appLog "calreport/internal/log"
	"calreport/internal/model"
	"calreport/internal/report"
)

// Page layout in millimetres (A4 portrait, 210 x 297).
const (
	Title = "Calendar Events Report"

	MarginLeft = 10.0
	PrintWidth = 190.0

	titleY     = 15.0
	statusY    = 25.0
	engineerY  = 32.0
	generatedY = 39.0
	ImageY     = 45.0

	snapshotName = "report-table"
)

// Assembler composes the header block and the table bitmap into a PDF.
type Assembler struct {
	now      func() time.Time
	locale   string
	compress bool
	font     Font
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock overrides the time source used for the generation date.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLocale sets the locale of the generation date line.
func WithLocale(tag string) Option {
	return func(a *Assembler) {
		if tag != "" {
			a.locale = tag
		}
	}
}

// WithCompression toggles page stream compression. It is on by default.
func WithCompression(on bool) Option {
	return func(a *Assembler) {
		a.compress = on
	}
}

// WithFont replaces the embedded header font. Fonts without Regular data
// are ignored.
func WithFont(f Font) Option {
	return func(a *Assembler) {
		if len(f.Regular) > 0 {
			a.font = f
		}
	}
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		now:      time.Now,
		locale:   report.DefaultLocale,
		compress: true,
		font:     defaultFont(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ImageHeight returns the printed height of a pxWidth x pxHeight bitmap
// scaled to printWidth, preserving its aspect ratio.
func ImageHeight(pxWidth, pxHeight int, printWidth float64) float64 {
	if pxWidth <= 0 || pxHeight <= 0 {
		return 0
	}
	return float64(pxHeight) * printWidth / float64(pxWidth)
}

// Assemble writes a single A4 portrait page to w: a centred title, the two
// filter lines, the generation date and the PNG snapshot below them.
//
// Bitmaps taller than the space left on the page are not split across pages;
// they run past the bottom edge.
func (a *Assembler) Assemble(w io.Writer, snapshot []byte, filter model.Filter) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(snapshot))
	if err != nil {
		return goerr.Wrap(err, "failed to decode snapshot", goerr.V("bytes", len(snapshot)))
	}
	if format != "png" {
		return goerr.New("snapshot is not a PNG", goerr.V("format", format))
	}
	imgHeight := ImageHeight(cfg.Width, cfg.Height, PrintWidth)
	if imgHeight == 0 {
		return goerr.New("snapshot has no pixels", goerr.V("width", cfg.Width), goerr.V("height", cfg.Height))
	}
	if Overflows(cfg.Width, cfg.Height) {
		appLog.Warn("snapshot runs past the page bottom", "width_px", cfg.Width, "height_px", cfg.Height, "height_mm", imgHeight)
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetAutoPageBreak(false, 0)
	doc.SetCompression(a.compress)
	doc.SetTitle(Title, true)
	doc.SetCreator("calreport", true)

	generated := a.now()
	doc.SetCreationDate(generated)
	doc.AddPage()

	doc.AddUTF8FontFromBytes(fontFamily, "", a.font.Regular)
	doc.AddUTF8FontFromBytes(fontFamily, "B", a.font.bold())
	pageWidth, _ := doc.GetPageSize()

	doc.SetFont(fontFamily, "B", 16)
	doc.SetTextColor(17, 24, 39)
	doc.Text((pageWidth-doc.GetStringWidth(Title))/2, titleY, Title)

	doc.SetFont(fontFamily, "", 11)
	doc.SetTextColor(55, 65, 81)
	doc.Text(MarginLeft, statusY, "Status Filter: "+filter.Status)
	doc.Text(MarginLeft, engineerY, "Engineer Filter: "+filter.Engineer)
	doc.Text(MarginLeft, generatedY, "Generated on: "+report.FormatDate(generated, a.locale))

	imgOpts := fpdf.ImageOptions{ImageType: "PNG"}
	doc.RegisterImageOptionsReader(snapshotName, imgOpts, bytes.NewReader(snapshot))
	doc.ImageOptions(snapshotName, MarginLeft, ImageY, PrintWidth, imgHeight, false, imgOpts, 0, "")

	if err := doc.Error(); err != nil {
		return goerr.Wrap(err, "failed to lay out PDF")
	}
	if err := doc.Output(w); err != nil {
		return goerr.Wrap(err, "failed to write PDF")
	}
	return nil
}

// Overflows reports whether a bitmap of the given pixel size runs past the
// bottom of an A4 page when placed by Assemble.
func Overflows(pxWidth, pxHeight int) bool {
	const a4Height = 297.0
	return ImageY+ImageHeight(pxWidth, pxHeight, PrintWidth) > a4Height
}
