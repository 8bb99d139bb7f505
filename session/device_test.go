package session

import "testing"

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want DeviceType
	}{
		{"", DeviceUnknown},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0", DeviceDesktop},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Safari/605.1.15", DeviceDesktop},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148", DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/120.0 Mobile Safari/537.36", DeviceMobile},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) Safari/604.1", DeviceTablet},
		{"Mozilla/5.0 (Linux; Android 13; SM-X700) Chrome/120.0 Safari/537.36", DeviceTablet},
	}
	for _, tc := range tests {
		if got := ClassifyDevice(tc.ua); got != tc.want {
			t.Fatalf("ClassifyDevice(%q) = %q, want %q", tc.ua, got, tc.want)
		}
	}
}
