package models

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidAccountName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"email", "jane.doe+test@example.com", true},
		{"token", "sender_01", true},
		{"token with at", "@handle", true},
		{"max length", strings.Repeat("a", MaxAccountNameLength), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxAccountNameLength+1), false},
		{"space", "Test User", false},
		{"slash", "a/b", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidAccountName(tc.input))
		})
	}
}

func TestValidMoneyScale(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"100", true},
		{"1.5", true},
		{"1.50", true},
		{"1.500", true},
		{"-0.01", true},
		{"0.005", false},
		{"99.995", false},
		{"0.0000001", false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidMoneyScale(decimal.RequireFromString(tc.input)))
		})
	}
}
