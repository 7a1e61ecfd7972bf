package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	isoDatePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	slashDatePattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern     = regexp.MustCompile(`\d{10,}`)
	arabicNameRun    = regexp.MustCompile(`[ء-ي\s]{3,}`)
	digitRunPattern  = regexp.MustCompile(`\d+`)
)

// ExtractDate returns the first date in text as YYYY-MM-DD. ISO dates are
// preferred; otherwise the first day/month/year date is reordered and padded.
// Calendar validity is left to the caller.
func ExtractDate(text string) (string, bool) {
	if m := isoDatePattern.FindString(text); m != "" {
		return m, true
	}
	m := slashDatePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
}

// ExtractEmail returns the first email address in text.
func ExtractEmail(text string) (string, bool) {
	m := emailPattern.FindString(text)
	return m, m != ""
}

// ExtractPhone returns the first run of at least ten digits.
func ExtractPhone(text string) (string, bool) {
	m := phonePattern.FindString(text)
	return m, m != ""
}

// ExtractName returns the first run of Arabic letters and spaces with at least
// three characters, trimmed. Whitespace-only runs are skipped.
func ExtractName(text string) (string, bool) {
	for _, m := range arabicNameRun.FindAllString(text, -1) {
		if name := strings.TrimSpace(m); name != "" {
			return name, true
		}
	}
	return "", false
}

// ExtractCode returns the first standalone run of exactly n digits. Longer
// runs such as phone numbers never match.
func ExtractCode(text string, n int) (string, bool) {
	if n <= 0 {
		return "", false
	}
	for _, m := range digitRunPattern.FindAllString(text, -1) {
		if len(m) == n {
			return m, true
		}
	}
	return "", false
}
