package conversation

import (
	"strings"
	"unicode"
)

// Intent is what an initial message asks for.
type Intent string

const (
	IntentNone    Intent = ""
	IntentBooking Intent = "booking"
	IntentInquiry Intent = "inquiry"
	IntentCancel  Intent = "cancel"
	IntentReset   Intent = "reset"
)

// Classifier maps free text to intents and yes/no answers. The transition
// table only depends on this interface, so keyword lists can be swapped for a
// different matcher.
type Classifier interface {
	Classify(text string) Intent
	IsReset(text string) bool
	IsAffirmative(text string) bool
	IsNegative(text string) bool
}

// keyword matches either as a substring (Arabic stems such as حجز also cover
// حجزي and الحجز) or as a whole token sequence (English words, short Arabic
// particles like لا that would otherwise match inside other words).
type keyword struct {
	text  string
	whole bool
}

func substr(text string) keyword { return keyword{text: text} }
func token(text string) keyword { return keyword{text: text, whole: true} }

// KeywordClassifier is the default rule-based Classifier.
type KeywordClassifier struct {
	booking          []keyword
	bookingThreshold int
	inquiry          []keyword
	// ownBooking words ("my booking") ask about an existing booking but say
	// nothing about what to do with it, so they yield to a cancel keyword.
	ownBooking       []keyword
	cancel           []keyword
	reset            []keyword
	affirmative      []keyword
	negative         []keyword
}

// NewKeywordClassifier returns the Arabic/English keyword rules.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		booking: []keyword{
			substr("حجز"), substr("استراحة"), substr("يوم"), substr("تاريخ"),
			token("book"), token("booking"), token("reserve"),
		},
		bookingThreshold: 2,
		inquiry:          []keyword{substr("استعلام"), token("check")},
		ownBooking:       []keyword{substr("حجزي"), token("my booking")},
		cancel:           []keyword{substr("إلغاء"), substr("الغاء"), token("cancel")},
		reset:            []keyword{substr("بداية"), substr("من جديد"), token("start over"), token("restart")},

		// Whole tokens only: "متأكد" inside "لست متأكدا" is not a yes.
		affirmative: []keyword{
			token("نعم"), token("ونعم"), token("أجل"), token("أكيد"),
			token("أكد"), token("أؤكد"), token("اؤكد"), token("تأكيد"), token("التأكيد"), token("مؤكد"),
			token("yes"), token("confirm"), token("ok"),
		},

		negative: []keyword{
			token("لا"), token("كلا"), token("لست"), token("ليس"),
			token("no"), token("not"),
		},
	}
}

// Classify applies the fixed priority booking, inquiry, cancel, reset. The
// first matching rule wins.
func (c *KeywordClassifier) Classify(text string) Intent {
	m := newMatcher(text)
	switch {
	case m.count(c.booking) >= c.bookingThreshold:
		return IntentBooking
	case m.any(c.inquiry):
		return IntentInquiry
	case m.any(c.ownBooking) && !m.any(c.cancel):
		return IntentInquiry
	case m.any(c.cancel):
		return IntentCancel
	case m.any(c.reset):
		return IntentReset
	default:
		return IntentNone
	}
}

func (c *KeywordClassifier) IsReset(text string) bool {
	return newMatcher(text).any(c.reset)
}

// IsAffirmative and IsNegative are independent; a message can match both
// ("لا أريد التأكيد"), and callers treat that as no answer.
func (c *KeywordClassifier) IsAffirmative(text string) bool {
	return newMatcher(text).any(c.affirmative)
}

func (c *KeywordClassifier) IsNegative(text string) bool {
	return newMatcher(text).any(c.negative)
}

type matcher struct {
	lower  string
	tokens string
}

func newMatcher(text string) matcher {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return matcher{
		lower:  lower,
		tokens: " " + strings.Join(fields, " ") + " ",
	}
}

func (m matcher) has(k keyword) bool {
	if k.whole {
		return strings.Contains(m.tokens, " "+k.text+" ")
	}
	return strings.Contains(m.lower, k.text)
}

func (m matcher) any(keywords []keyword) bool {
	for _, k := range keywords {
		if m.has(k) {
			return true
		}
	}
	return false
}

func (m matcher) count(keywords []keyword) int {
	n := 0
	for _, k := range keywords {
		if m.has(k) {
			n++
		}
	}
	return n
}
