package transcript

import (
	"fmt"
	"regexp"
	"strings"
)

// Format is a timestamp notation used by a transcript line.
type Format int

const (
	FormatUnrecognized Format = iota
	FormatBracket             // [MM:SS] text, (MM:SS) text, MM:SS text, 12.5 text
	FormatRangeDash           // MM:SS - MM:SS text, [HH:MM:SS - HH:MM:SS] text, 1.5 - 3.2 text
	FormatSRTArrow            // HH:MM:SS,mmm --> HH:MM:SS,mmm (or WebVTT MM:SS.mmm), text on following lines
)

func (f Format) String() string {
	switch f {
	case FormatBracket:
		return "bracket"
	case FormatRangeDash:
		return "range_dash"
	case FormatSRTArrow:
		return "srt_arrow"
	default:
		return "unrecognized"
	}
}

// ParseFormat maps a provider format hint to a Format. An empty hint is
// FormatUnrecognized, meaning "detect from content".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FormatUnrecognized, nil
	case "bracket":
		return FormatBracket, nil
	case "range_dash", "range-dash", "range":
		return FormatRangeDash, nil
	case "srt_arrow", "srt-arrow", "srt", "vtt":
		return FormatSRTArrow, nil
	}
	return FormatUnrecognized, fmt.Errorf("unknown transcript format %q", s)
}

const (
	stamp    = `\d{1,2}(?::\d{2}){1,2}(?:[,.]\d{1,3})?`
	cueStamp = `(?:\d+:)?\d{2}:\d{2}(?:[,.]\d{1,3})?`
	seconds  = `\d+(?:\.\d+)?`
)

var (
	// srtArrowRe matches "00:00:01,000 --> 00:00:04,000" and WebVTT's
	// "00:01.000 --> 00:04.000", with optional cue settings.
	srtArrowRe = regexp.MustCompile(`^(` + cueStamp + `)\s*-->\s*(` + cueStamp + `)(?:\s+.*)?$`)

	// rangeDashRe matches "01:05 - 01:10 text" and "[00:01:05 - 00:01:10] text".
	rangeDashRe = regexp.MustCompile(`^\[?(` + stamp + `)\s*-\s*(` + stamp + `)\]?(?:\s+(.*))?$`)

	// secondsRangeRe matches "1.5 - 3.2 text".
	secondsRangeRe = regexp.MustCompile(`^(` + seconds + `)\s*-\s*(` + seconds + `)\s+(\S.*)$`)

	// bracketRe matches "[01:05] text" and "(01:05) text".
	bracketRe = regexp.MustCompile(`^[\[(](` + stamp + `)[\])]\s*(.*)$`)

	// Bare starts need text that does not open with a dash, so "12:30 - meeting"
	// stays prose.
	bareStartRe    = regexp.MustCompile(`^(` + stamp + `)\s+([^\s-].*)$`)
	secondsStartRe = regexp.MustCompile(`^(` + seconds + `)\s+([^\s-].*)$`)

	cueIDRe = regexp.MustCompile(`^\d+$`)

	// WebVTT header, comment and style blocks run to the next blank line.
	vttBlockRe     = regexp.MustCompile(`^(WEBVTT|NOTE|STYLE|REGION)\b`)
	metadataLineRe = regexp.MustCompile(`^(Kind|Language):`)
	inlineTagRe    = regexp.MustCompile(`<[^>]+>`)
)

// matchRange returns the start, end and text of a range-dash line.
func matchRange(line string) (start, end, text string, ok bool) {
	if m := rangeDashRe.FindStringSubmatch(line); m != nil {
		return m[1], m[2], m[3], true
	}
	if m := secondsRangeRe.FindStringSubmatch(line); m != nil {
		return m[1], m[2], m[3], true
	}
	return "", "", "", false
}

// matchStart returns the start and text of a start-only line: bracketed,
// parenthesised, or a bare clock or seconds value.
func matchStart(line string) (start, text string, ok bool) {
	for _, re := range []*regexp.Regexp{bracketRe, bareStartRe, secondsStartRe} {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// DetectLine classifies a single line. The most specific shape is checked
// first because the notations overlap: an SRT arrow line also contains a dash
// and a range can be bracketed.
func DetectLine(line string) Format {
	line = strings.TrimSpace(line)
	if line == "" {
		return FormatUnrecognized
	}
	if srtArrowRe.MatchString(line) {
		return FormatSRTArrow
	}
	if _, _, _, ok := matchRange(line); ok {
		return FormatRangeDash
	}
	if _, _, ok := matchStart(line); ok {
		return FormatBracket
	}
	return FormatUnrecognized
}

// DetectFormat returns the working format of a transcript: the format of the
// first line that matches any notation.
func DetectFormat(lines []Line) Format {
	for _, l := range lines {
		if f := DetectLine(l.Text); f != FormatUnrecognized {
			return f
		}
	}
	return FormatUnrecognized
}
