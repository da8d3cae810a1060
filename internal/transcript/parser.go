// Package transcript turns timestamped transcript text into ordered tokens.
//
// Three notations are understood (see Format). A transcript is parsed under a
// working format: the caller's hint, or else the format of the first line that
// matches any notation. Lines in another recognised notation are still parsed
// with their own strategy; the working format decides how lines that match no
// notation are treated (for SRT they may be cue numbers or cue text).
package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTimestampsFound is returned when no line yields a token.
var ErrNoTimestampsFound = errors.New("no timestamps found")

// ErrNonMonotonic marks a token whose start precedes an earlier token's start.
var ErrNonMonotonic = errors.New("timestamp earlier than a preceding line")

// Line is one raw transcript line. Number is 1-based.
type Line struct {
	Number int
	Text   string
}

// Token is a parsed timestamp with its text, before alignment.
type Token struct {
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms,omitempty"`
	HasEnd     bool   `json:"has_end"`
	Text       string `json:"text"`
	SourceLine int    `json:"source_line"`
}

// ParseError records a line that could not be used. It never aborts parsing.
type ParseError struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result is the output of Parse.
type Result struct {
	Format Format
	Tokens []Token
	Errors []*ParseError
}

// SplitLines splits raw text into numbered lines, accepting \n and \r\n.
func SplitLines(text string) []Line {
	raw := strings.Split(text, "\n")
	lines := make([]Line, len(raw))
	for i, s := range raw {
		lines[i] = Line{Number: i + 1, Text: strings.TrimRight(s, "\r")}
	}
	return lines
}

// LinesFrom numbers an ordered slice of provider lines.
func LinesFrom(texts []string) []Line {
	lines := make([]Line, len(texts))
	for i, s := range texts {
		lines[i] = Line{Number: i + 1, Text: strings.TrimRight(s, "\r")}
	}
	return lines
}

// Parse converts lines into tokens in non-decreasing start order. Lines that
// cannot be parsed are recorded in Result.Errors and skipped. The result is
// returned even when the error is ErrNoTimestampsFound so callers can report
// the per-line errors.
func Parse(lines []Line, hint Format) (*Result, error) {
	p := &parser{
		lines:    lines,
		working:  hint,
		maxStart: -1,
	}
	if p.working == FormatUnrecognized {
		p.working = DetectFormat(lines)
	}
	p.run()

	res := &Result{Format: p.working, Tokens: p.tokens, Errors: p.errs}
	if len(res.Tokens) == 0 {
		return res, ErrNoTimestampsFound
	}
	return res, nil
}

type parser struct {
	lines    []Line
	working  Format
	tokens   []Token
	errs     []*ParseError
	maxStart int64
}

func (p *parser) run() {
	for i := 0; i < len(p.lines); {
		line := p.lines[i]
		text := strings.TrimSpace(line.Text)
		if text == "" {
			i++
			continue
		}

		if p.working == FormatSRTArrow {
			if vttBlockRe.MatchString(text) {
				i = p.skipBlock(i)
				continue
			}
			if metadataLineRe.MatchString(text) || p.cueIdentifier(i) {
				i++
				continue
			}
		}

		switch DetectLine(text) {
		case FormatSRTArrow:
			i = p.srtCue(i)
		case FormatRangeDash:
			p.rangeDash(line, text)
			i++
		case FormatBracket:
			p.bracket(line, text)
			i++
		default:
			p.unrecognized(line, text)
			i++
		}
	}
}

// skipBlock skips a WebVTT header, NOTE, STYLE or REGION block, returning the
// index of the blank line or cue timing line that ends it.
func (p *parser) skipBlock(i int) int {
	for i++; i < len(p.lines); i++ {
		t := strings.TrimSpace(p.lines[i].Text)
		if t == "" || srtArrowRe.MatchString(t) {
			break
		}
	}
	return i
}

// cueIdentifier reports whether line i names the cue whose timing line
// follows it.
func (p *parser) cueIdentifier(i int) bool {
	if i+1 >= len(p.lines) || srtArrowRe.MatchString(strings.TrimSpace(p.lines[i].Text)) {
		return false
	}
	return srtArrowRe.MatchString(strings.TrimSpace(p.lines[i+1].Text))
}

// srtCue consumes the arrow line at i and its text lines up to the next blank
// line or the next cue, returning the index of the first unconsumed line.
// Inline WebVTT tags such as <00:00:01.500> and <c> are stripped.
func (p *parser) srtCue(i int) int {
	line := p.lines[i]
	m := srtArrowRe.FindStringSubmatch(strings.TrimSpace(line.Text))

	j := i + 1
	var parts []string
	for ; j < len(p.lines); j++ {
		t := strings.TrimSpace(p.lines[j].Text)
		if t == "" || srtArrowRe.MatchString(t) || p.cueIdentifier(j) {
			break
		}
		if t = strings.Join(strings.Fields(inlineTagRe.ReplaceAllString(t, "")), " "); t != "" {
			parts = append(parts, t)
		}
	}

	start, err := ParseTimestamp(m[1])
	if err != nil {
		p.fail(line, "bad cue start", err)
		return j
	}
	end, err := ParseTimestamp(m[2])
	if err != nil {
		p.fail(line, "bad cue end", err)
		return j
	}
	if len(parts) == 0 {
		p.fail(line, "cue has no text", nil)
		return j
	}

	p.emit(line, Token{
		StartMs:    start,
		EndMs:      end,
		HasEnd:     true,
		Text:       strings.Join(parts, " "),
		SourceLine: line.Number,
	})
	return j
}

func (p *parser) rangeDash(line Line, text string) {
	from, to, body, _ := matchRange(text)
	start, err := parseStamp(from)
	if err != nil {
		p.fail(line, "bad range start", err)
		return
	}
	end, err := parseStamp(to)
	if err != nil {
		p.fail(line, "bad range end", err)
		return
	}
	p.emit(line, Token{
		StartMs:    start,
		EndMs:      end,
		HasEnd:     true,
		Text:       strings.TrimSpace(body),
		SourceLine: line.Number,
	})
}

func (p *parser) bracket(line Line, text string) {
	from, body, _ := matchStart(text)
	start, err := parseStamp(from)
	if err != nil {
		p.fail(line, "bad timestamp", err)
		return
	}
	p.emit(line, Token{
		StartMs:    start,
		Text:       strings.TrimSpace(body),
		SourceLine: line.Number,
	})
}

func (p *parser) unrecognized(line Line, text string) {
	if p.working == FormatSRTArrow {
		// A numeric cue identifier separated from its timing line.
		if cueIDRe.MatchString(text) {
			return
		}
	}
	if p.working == FormatUnrecognized {
		p.fail(line, "no recognised timestamp", nil)
		return
	}
	p.fail(line, fmt.Sprintf("no %s timestamp", p.working), nil)
}

func (p *parser) emit(line Line, tok Token) {
	if tok.StartMs < p.maxStart {
		p.fail(line, fmt.Sprintf("start %s precedes %s", FormatTimestamp(tok.StartMs), FormatTimestamp(p.maxStart)), ErrNonMonotonic)
		return
	}
	p.maxStart = tok.StartMs
	p.tokens = append(p.tokens, tok)
}

func (p *parser) fail(line Line, reason string, err error) {
	if err != nil && !errors.Is(err, ErrNonMonotonic) {
		reason = reason + ": " + err.Error()
	}
	p.errs = append(p.errs, &ParseError{
		Line:   line.Number,
		Text:   line.Text,
		Reason: reason,
		Err:    err,
	})
}
