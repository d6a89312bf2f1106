package pdf

import (
	_ "embed"
	"os"

	"github.com/m-mizutani/goerr/v2"
)

const fontFamily = "report"

// DejaVu Sans covers Latin, Greek and Cyrillic. Scripts outside it, such as
// Hangul or CJK, need a font supplied through WithFont.
//
//go:embed fonts/DejaVuSansCondensed.ttf
var defaultRegular []byte

//go:embed fonts/DejaVuSansCondensed-Bold.ttf
var defaultBold []byte

// Font holds TrueType data for the header text.
type Font struct {
	Regular []byte
	// Bold is used for the title; empty means Regular.
	Bold []byte
}

func defaultFont() Font {
	return Font{Regular: defaultRegular, Bold: defaultBold}
}

func (f Font) bold() []byte {
	if len(f.Bold) > 0 {
		return f.Bold
	}
	return f.Regular
}

// LoadFont reads TrueType files from disk. boldPath may be empty.
func LoadFont(regularPath, boldPath string) (Font, error) {
	var f Font
	data, err := os.ReadFile(regularPath)
	if err != nil {
		return f, goerr.Wrap(err, "failed to read font", goerr.V("path", regularPath))
	}
	f.Regular = data

	if boldPath != "" {
		data, err := os.ReadFile(boldPath)
		if err != nil {
			return f, goerr.Wrap(err, "failed to read font", goerr.V("path", boldPath))
		}
		f.Bold = data
	}
	return f, nil
}
