package captions

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// Scenarist SCC rendering. Captions are encoded as CEA-608 pop-on captions
// on channel 1: each cue loads into off-screen memory, flips on screen at
// its start timecode, and is erased at its end timecode unless the next cue
// follows immediately.

const sccHeader = "Scenarist_SCC V1.0"

// CEA-608 channel 1 control codes, before parity.
const (
	codeRCL = 0x1420 // resume caption loading
	codeENM = 0x142E // erase non-displayed memory
	codeEOC = 0x142F // end of caption: flip memory, display
	codeEDM = 0x142C // erase displayed memory
)

// Preamble address codes for the bottom four rows (12-15), white, indent 0.
var rowPACs = [...]uint16{0x1340, 0x1360, 0x1440, 0x1460}

const (
	maxRowChars = 32
	maxRows     = len(rowPACs)

	// A caption stays on screen across a short inter-cue gap; an erase is
	// only scheduled when the silence is long enough to look intentional.
	eraseGapSeconds = 1.0
)

// EncodeSCC renders cues as a Scenarist SCC document.
func EncodeSCC(cues []Cue) ([]byte, error) {
	if len(cues) == 0 {
		return nil, fmt.Errorf("encode scc: no cues")
	}

	var doc strings.Builder
	doc.WriteString(sccHeader)
	doc.WriteString("\n\n")

	wrote := false
	for i, cue := range cues {
		rows := layoutRows(cue.Lines)
		if len(rows) == 0 {
			continue
		}

		pairs := make([]string, 0, 8+len(rows)*(maxRowChars/2+2))
		pairs = append(pairs,
			controlPair(codeRCL), controlPair(codeRCL),
			controlPair(codeENM), controlPair(codeENM),
		)
		base := maxRows - len(rows)
		for r, row := range rows {
			pac := controlPair(rowPACs[base+r])
			pairs = append(pairs, pac, pac)
			pairs = append(pairs, textPairs(row)...)
		}
		pairs = append(pairs, controlPair(codeEOC), controlPair(codeEOC))

		doc.WriteString(sccTimecode(cue.Start))
		doc.WriteString("\t")
		doc.WriteString(strings.Join(pairs, " "))
		doc.WriteString("\n\n")
		wrote = true

		if erasable(cues, i) {
			erase := controlPair(codeEDM)
			doc.WriteString(sccTimecode(cue.End))
			doc.WriteString("\t")
			doc.WriteString(erase + " " + erase)
			doc.WriteString("\n\n")
		}
	}

	if !wrote {
		return nil, fmt.Errorf("encode scc: no encodable cues")
	}
	return []byte(doc.String()), nil
}

func erasable(cues []Cue, i int) bool {
	if i == len(cues)-1 {
		return true
	}
	return cues[i+1].Start-cues[i].End > eraseGapSeconds
}

// layoutRows re-wraps cue text into at most maxRows rows of maxRowChars
// columns. Text beyond the fourth row is dropped; WhisperX cues are short
// enough that this only triggers on degenerate transcripts.
func layoutRows(lines []string) []string {
	var words []string
	for _, line := range lines {
		words = append(words, strings.Fields(sanitizeText(line))...)
	}

	var rows []string
	var current strings.Builder
	for _, word := range words {
		if len(word) > maxRowChars {
			word = word[:maxRowChars]
		}
		switch {
		case current.Len() == 0:
			current.WriteString(word)
		case current.Len()+1+len(word) <= maxRowChars:
			current.WriteString(" ")
			current.WriteString(word)
		default:
			rows = append(rows, current.String())
			current.Reset()
			current.WriteString(word)
			if len(rows) == maxRows {
				return rows[:maxRows]
			}
		}
	}
	if current.Len() > 0 {
		rows = append(rows, current.String())
	}
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	return rows
}

// sanitizeText maps punctuation outside the CEA-608 basic set onto nearby
// encodable characters.
func sanitizeText(text string) string {
	replacer := strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", "\"", "”", "\"",
		"–", "-", "—", "-",
		"…", "...",
		"*", "-",
		"\\", "/",
		"_", "-",
		"`", "'",
		"{", "(",
		"}", ")",
		"|", "/",
		"~", " ",
		"^", " ",
	)
	return replacer.Replace(text)
}

// textPairs encodes a row of text as parity-protected byte pairs, two
// characters per pair, padding an odd tail with a null byte.
func textPairs(row string) []string {
	encoded := make([]byte, 0, len(row))
	for _, r := range row {
		if b, ok := charByte(r); ok {
			encoded = append(encoded, withParity(b))
		} else {
			encoded = append(encoded, withParity(0x20))
		}
	}
	if len(encoded)%2 != 0 {
		encoded = append(encoded, withParity(0x00))
	}

	pairs := make([]string, 0, len(encoded)/2)
	for i := 0; i < len(encoded); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%02x%02x", encoded[i], encoded[i+1]))
	}
	return pairs
}

// charByte maps a rune onto the CEA-608 basic character set. The set mostly
// tracks ASCII, but nine punctuation slots hold accented letters instead.
func charByte(r rune) (byte, bool) {
	switch r {
	case '*', '\\', '^', '_', '`', '{', '|', '}', '~':
		return 0, false
	case 'á':
		return 0x2A, true
	case 'é':
		return 0x5C, true
	case 'í':
		return 0x5E, true
	case 'ó':
		return 0x5F, true
	case 'ú':
		return 0x60, true
	case 'ç':
		return 0x7B, true
	case '÷':
		return 0x7C, true
	case 'Ñ':
		return 0x7D, true
	case 'ñ':
		return 0x7E, true
	}
	if r >= 0x20 && r <= 0x7E {
		return byte(r), true
	}
	return 0, false
}

// withParity sets bit 7 so every transmitted byte has odd parity.
func withParity(b byte) byte {
	if bits.OnesCount8(b)%2 == 0 {
		b |= 0x80
	}
	return b
}

func controlPair(code uint16) string {
	return fmt.Sprintf("%02x%02x", withParity(byte(code>>8)), withParity(byte(code&0xFF)))
}

// sccTimecode renders seconds as a 29.97fps drop-frame timecode. Frame
// numbers 0 and 1 are skipped at the top of every minute except each tenth,
// which keeps the counter aligned with wall clock.
func sccTimecode(seconds float64) string {
	const framesPer10Min = 17982
	const framesPerMin = 1798

	frame := int(math.Round(seconds * 30000.0 / 1001.0))
	if frame < 0 {
		frame = 0
	}

	tens := frame / framesPer10Min
	rem := frame % framesPer10Min
	if rem < 2 {
		rem = 2
	}
	adjusted := frame + 18*tens + 2*((rem-2)/framesPerMin)

	frames := adjusted % 30
	secs := (adjusted / 30) % 60
	mins := (adjusted / 1800) % 60
	hours := (adjusted / 108000) % 24
	return fmt.Sprintf("%02d:%02d:%02d;%02d", hours, mins, secs, frames)
}
