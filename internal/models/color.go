package models

import "strings"

// ColorID is a Google Calendar event color id, "1" through "11".
type ColorID string

const (
	ColorLavender  ColorID = "1"
	ColorSage      ColorID = "2"
	ColorGrape     ColorID = "3"
	ColorFlamingo  ColorID = "4"
	ColorBanana    ColorID = "5"
	ColorTangerine ColorID = "6"
	ColorPeacock   ColorID = "7"
	ColorGraphite  ColorID = "8"
	ColorBlueberry ColorID = "9"
	ColorBasil     ColorID = "10"
	ColorTomato    ColorID = "11"
)

var colorNames = map[ColorID]string{
	ColorLavender:  "Lavender",
	ColorSage:      "Sage",
	ColorGrape:     "Grape",
	ColorFlamingo:  "Flamingo",
	ColorBanana:    "Banana",
	ColorTangerine: "Tangerine",
	ColorPeacock:   "Peacock",
	ColorGraphite:  "Graphite",
	ColorBlueberry: "Blueberry",
	ColorBasil:     "Basil",
	ColorTomato:    "Tomato",
}

// Valid reports whether c is one of the eleven known color ids.
func (c ColorID) Valid() bool {
	_, ok := colorNames[c]
	return ok
}

// Name returns the display name of the color, e.g. "Tomato".
// CalDAV servers receive the lowercased name as the RFC 7986 COLOR value.
func (c ColorID) Name() string {
	return colorNames[c]
}

// ColorByName maps a color name back to its id, ignoring case.
func ColorByName(name string) (ColorID, bool) {
	for id, n := range colorNames {
		if strings.EqualFold(n, name) {
			return id, true
		}
	}
	return "", false
}
