package sms

import (
	"testing"

	"github.com/gatehouse/gatehouse/internal/testutil"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"us number", "+15551234567", "+15551234567", false},
		{"with spaces", " +1 555 123 4567 ", "+15551234567", false},
		{"uk number", "+442071838750", "+442071838750", false},
		{"empty", "", "", true},
		{"no country code", "5551234567", "", true},
		{"garbage", "+!!!", "", true},
		{"too short", "+1", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.input)
			if tc.wantErr {
				testutil.Error(t, err)
				return
			}
			testutil.NoError(t, err)
			testutil.Equal(t, tc.want, got)
		})
	}
}

func TestIsE164(t *testing.T) {
	testutil.True(t, IsE164("+15551234567"))
	testutil.False(t, IsE164("15551234567"))
	testutil.False(t, IsE164("+05551234567"))
	testutil.False(t, IsE164("+1555123456789012345"))
}
