package transcript

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimestamp converts "MM:SS", "HH:MM:SS" or either with a ",mmm"/".mmm"
// fraction into milliseconds. Fractions shorter than three digits are
// right-padded, so "00:00:01,5" is 1500 ms.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	clock, frac := s, ""
	if i := strings.IndexAny(s, ",."); i >= 0 {
		clock, frac = s[:i], s[i+1:]
	}

	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("timestamp %q: want MM:SS or HH:MM:SS", s)
	}
	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 || p == "" {
			return 0, fmt.Errorf("timestamp %q: bad field %q", s, p)
		}
		nums[i] = n
	}

	var hours, minutes, seconds int64
	if len(nums) == 3 {
		hours, minutes, seconds = nums[0], nums[1], nums[2]
		if minutes > 59 {
			return 0, fmt.Errorf("timestamp %q: minutes out of range", s)
		}
	} else {
		minutes, seconds = nums[0], nums[1]
	}
	if seconds > 59 {
		return 0, fmt.Errorf("timestamp %q: seconds out of range", s)
	}

	var millis int64
	if frac != "" {
		if len(frac) > 3 {
			return 0, fmt.Errorf("timestamp %q: fraction longer than milliseconds", s)
		}
		frac += strings.Repeat("0", 3-len(frac))
		n, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("timestamp %q: bad milliseconds %q", s, frac)
		}
		millis = n
	}

	return ((hours*60+minutes)*60+seconds)*1000 + millis, nil
}

// ParseSeconds converts a decimal seconds value such as "12" or "1.5" into
// milliseconds. Digits beyond milliseconds are truncated.
func ParseSeconds(s string) (int64, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || n < 0 || whole == "" {
		return 0, fmt.Errorf("seconds %q: bad value", s)
	}
	var millis int64
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		frac += strings.Repeat("0", 3-len(frac))
		m, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || m < 0 {
			return 0, fmt.Errorf("seconds %q: bad fraction", s)
		}
		millis = m
	}
	return n*1000 + millis, nil
}

// parseStamp accepts either a clock timestamp or decimal seconds.
func parseStamp(s string) (int64, error) {
	if strings.Contains(s, ":") {
		return ParseTimestamp(s)
	}
	return ParseSeconds(s)
}

// FormatTimestamp renders milliseconds as HH:MM:SS,mmm.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	sec := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, sec, ms%1000)
}
