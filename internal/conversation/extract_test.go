package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"iso", "أريد الحجز يوم 2025-06-01 من فضلك", "2025-06-01", true},
		{"slash padded", "التاريخ 01/06/2025", "2025-06-01", true},
		{"slash short", "1/6/2025", "2025-06-01", true},
		{"slash two digit", "25/12/2025", "2025-12-25", true},
		{"iso preferred over earlier slash", "3/4/2025 أو 2025-07-09", "2025-07-09", true},
		{"first iso wins", "2025-06-01 ثم 2025-06-02", "2025-06-01", true},
		{"iso shape kept for caller validation", "2025-13-45", "2025-13-45", true},
		{"none", "غداً إن شاء الله", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractDate(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractEmailAndPhone(t *testing.T) {
	email, ok := ExtractEmail("بريدي Ali.Test+1@mail.example.ly شكراً")
	assert.True(t, ok)
	assert.Equal(t, "Ali.Test+1@mail.example.ly", email)

	_, ok = ExtractEmail("no-at-sign.example.com")
	assert.False(t, ok)

	phone, ok := ExtractPhone("رقمي 0912345678 أو 123")
	assert.True(t, ok)
	assert.Equal(t, "0912345678", phone)

	_, ok = ExtractPhone("091234567")
	assert.False(t, ok, "nine digits is not a phone number")
}

func TestExtractName(t *testing.T) {
	name, ok := ExtractName("محمد علي 0912345678 m@example.com")
	assert.True(t, ok)
	assert.Equal(t, "محمد علي", name)

	name, ok = ExtractName("name:    , سارة")
	assert.True(t, ok)
	assert.Equal(t, "سارة", name, "whitespace-only runs are skipped")

	_, ok = ExtractName("John Smith 0912345678")
	assert.False(t, ok)

	_, ok = ExtractName("يا")
	assert.False(t, ok, "shorter than three characters")
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
		ok    bool
	}{
		{"otp", "الرمز هو 4821", 4, "4821", true},
		{"first of several", "1111 2222", 4, "1111", true},
		{"phone is not an otp", "0912345678", 4, "", false},
		{"skips longer runs", "12345 then 6789", 4, "6789", true},
		{"secret code", "رمزي 654321", 6, "654321", true},
		{"otp is not a secret code", "4821", 6, "", false},
		{"invalid length", "4821", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCode(tt.input, tt.n)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
