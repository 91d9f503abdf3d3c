package publisher

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// meetingDatePattern matches the YYYY-MM-DD segment recording appliances put
// in meeting filenames ("city-council-2026-08-12.mp4").
var meetingDatePattern = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

var titleCaser = cases.Title(language.English)

// DeriveTitle builds a display title and the recording date from a meeting
// filename. When no date is embedded, ok is false and callers should fall
// back to record metadata.
func DeriveTitle(path string) (title string, recordedAt time.Time, ok bool) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.TrimSuffix(base, "-captioned")

	var dateText string
	if match := meetingDatePattern.FindString(base); match != "" {
		if parsed, err := time.Parse("2006-01-02", match); err == nil {
			dateText = match
			recordedAt = parsed
			ok = true
			base = strings.Replace(base, match, "", 1)
		}
	}

	fields := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	name := titleCaser.String(strings.Join(fields, " "))
	if name == "" {
		name = "Meeting"
	}
	if dateText != "" {
		title = name + " " + dateText
	} else {
		title = name
	}
	return title, recordedAt, ok
}
