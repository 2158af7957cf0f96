package bake

import "strings"

// Font maps a standard-14 font name onto the PDF writer's core font set.
type Font struct {
	Name   string
	Family string
	Style  string
	// HeightRatio is the line height per unit of font size, ascender minus
	// descender over the em square.
	HeightRatio float64
}

// LineHeight returns the height of one line at size.
func (f Font) LineHeight(size float64) float64 {
	return f.HeightRatio * size
}

var standardFonts = map[string]Font{
	"helvetica":             {Family: "Helvetica", Style: "", HeightRatio: 0.925},
	"helvetica-bold":        {Family: "Helvetica", Style: "B", HeightRatio: 0.925},
	"helvetica-oblique":     {Family: "Helvetica", Style: "I", HeightRatio: 0.925},
	"helvetica-boldoblique": {Family: "Helvetica", Style: "BI", HeightRatio: 0.925},
	"times-roman":           {Family: "Times", Style: "", HeightRatio: 0.9},
	"times-bold":            {Family: "Times", Style: "B", HeightRatio: 0.9},
	"times-italic":          {Family: "Times", Style: "I", HeightRatio: 0.9},
	"times-bolditalic":      {Family: "Times", Style: "BI", HeightRatio: 0.9},
	"courier":               {Family: "Courier", Style: "", HeightRatio: 0.786},
	"courier-bold":          {Family: "Courier", Style: "B", HeightRatio: 0.786},
	"courier-oblique":       {Family: "Courier", Style: "I", HeightRatio: 0.786},
	"courier-boldoblique":   {Family: "Courier", Style: "BI", HeightRatio: 0.786},
	"symbol":                {Family: "Symbol", Style: "", HeightRatio: 1.303},
	"zapfdingbats":          {Family: "ZapfDingbats", Style: "", HeightRatio: 0.963},
}

// LookupFont resolves a standard font name case-insensitively. Unknown names
// resolve to Helvetica and report false.
func LookupFont(name string) (Font, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
	f, ok := standardFonts[key]
	if !ok {
		f = standardFonts["helvetica"]
		f.Name = "Helvetica"
		return f, false
	}
	f.Name = name
	return f, true
}
