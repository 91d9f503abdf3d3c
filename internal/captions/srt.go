package captions

import (
	"fmt"
	"strconv"
	"strings"
)

// Cue is one subtitle cue parsed from an SRT file.
type Cue struct {
	Index int
	// Start and End are offsets from the beginning of the recording in
	// seconds.
	Start float64
	End   float64
	Lines []string
}

// Duration returns the cue's display time in seconds.
func (c Cue) Duration() float64 {
	return c.End - c.Start
}

// ParseSRT parses SRT subtitle data into cues. Cues with unparseable
// timestamps or no text are dropped rather than failing the whole file:
// WhisperX output occasionally carries a malformed block.
func ParseSRT(data []byte) ([]Cue, error) {
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("parse srt: empty document")
	}

	var cues []Cue
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 {
			continue
		}

		idx := 0
		index := len(cues) + 1
		if parsed, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			index = parsed
			idx = 1
		}
		if idx >= len(lines) || !strings.Contains(lines[idx], "-->") {
			continue
		}

		parts := strings.SplitN(lines[idx], "-->", 2)
		start, errStart := parseSRTTimestamp(parts[0])
		end, errEnd := parseSRTTimestamp(parts[1])
		if errStart != nil || errEnd != nil || end < start {
			continue
		}

		var text []string
		for _, line := range lines[idx+1:] {
			line = strings.TrimSpace(line)
			if line != "" {
				text = append(text, line)
			}
		}
		if len(text) == 0 {
			continue
		}

		cues = append(cues, Cue{Index: index, Start: start, End: end, Lines: text})
	}

	if len(cues) == 0 {
		return nil, fmt.Errorf("parse srt: no usable cues")
	}
	return cues, nil
}

// LastTimestamp returns the end time of the final cue in seconds.
func LastTimestamp(cues []Cue) float64 {
	var last float64
	for _, cue := range cues {
		if cue.End > last {
			last = cue.End
		}
	}
	return last
}

func parseSRTTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	// SRT uses comma for milliseconds but some generators emit a period.
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}
