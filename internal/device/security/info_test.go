package security

import (
	"strings"
	"testing"

	"sitekeeper/internal/device/domain"
	sessiondomain "sitekeeper/internal/session/domain"
)

const (
	chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariIPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	safariIPadUA    = "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
)

func TestExtractDeviceInfo_UserAgents(t *testing.T) {
	tests := []struct {
		name     string
		ua       string
		wantType sessiondomain.DeviceType
		osPrefix string
		browser  string
	}{
		{"chrome on windows", chromeWindowsUA, sessiondomain.DeviceDesktop, "Windows", "Chrome"},
		{"safari on iphone", safariIPhoneUA, sessiondomain.DeviceMobile, "", "Safari"},
		{"safari on ipad", safariIPadUA, sessiondomain.DeviceTablet, "", "Safari"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ExtractDeviceInfo(tt.ua, "203.0.113.7", nil)
			if info.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", info.Type, tt.wantType)
			}
			if info.Browser != tt.browser {
				t.Errorf("Browser = %q, want %q", info.Browser, tt.browser)
			}
			if !strings.HasPrefix(info.OperatingSystem, tt.osPrefix) || info.OperatingSystem == domain.Unknown {
				t.Errorf("OperatingSystem = %q, want prefix %q", info.OperatingSystem, tt.osPrefix)
			}
			if info.UserAgent != tt.ua || info.IPAddress != "203.0.113.7" {
				t.Errorf("raw fields not carried: %+v", info)
			}
			if want := info.Browser + " on " + info.OperatingSystem; info.Name != want {
				t.Errorf("Name = %q, want %q", info.Name, want)
			}
		})
	}
}

func TestExtractDeviceInfo_EmptyIsUnknown(t *testing.T) {
	info := ExtractDeviceInfo("", "", nil)
	if info.Type != sessiondomain.DeviceUnknown {
		t.Errorf("Type = %s, want Unknown", info.Type)
	}
	for name, v := range map[string]string{
		"Name": info.Name, "OperatingSystem": info.OperatingSystem, "Browser": info.Browser,
		"Platform": info.Platform, "Language": info.Language, "Timezone": info.Timezone,
		"ScreenResolution": info.ScreenResolution,
	} {
		if v != domain.Unknown {
			t.Errorf("%s = %q, want Unknown", name, v)
		}
	}
}

func TestExtractDeviceInfo_ClientHints(t *testing.T) {
	headers := map[string]string{
		"x-device-name":       "Work laptop",
		"Sec-CH-UA-Platform":  `"Linux"`,
		"Accept-Language":     "de-DE,de;q=0.9,en;q=0.8",
		"X-Timezone":          "Europe/Berlin",
		"X-Screen-Resolution": "2560x1440",
	}
	info := ExtractDeviceInfo("", "198.51.100.1", headers)
	if info.Name != "Work laptop" {
		t.Errorf("Name = %q", info.Name)
	}
	if info.OperatingSystem != "Linux" || info.Platform != "Linux" {
		t.Errorf("platform hint not applied: os=%q platform=%q", info.OperatingSystem, info.Platform)
	}
	if info.Language != "de-DE" || info.Timezone != "Europe/Berlin" || info.ScreenResolution != "2560x1440" {
		t.Errorf("hints = %q %q %q", info.Language, info.Timezone, info.ScreenResolution)
	}
}

func TestGenerateFingerprint(t *testing.T) {
	info := ExtractDeviceInfo(chromeWindowsUA, "203.0.113.7", map[string]string{"Accept-Language": "en-US"})
	a := GenerateFingerprint(info, chromeWindowsUA, "203.0.113.7", map[string]string{"a": "1", "b": "2"})
	b := GenerateFingerprint(info, chromeWindowsUA, "203.0.113.7", map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Error("fingerprint depends on map iteration order")
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
	if c := GenerateFingerprint(info, chromeWindowsUA, "203.0.113.8", map[string]string{"a": "1", "b": "2"}); c == a {
		t.Error("fingerprint ignores the IP")
	}
	if d := GenerateFingerprint(info, chromeWindowsUA, "203.0.113.7", map[string]string{"a": "1"}); d == a {
		t.Error("fingerprint ignores extra attributes")
	}
	if e := GenerateFingerprint(info, safariIPhoneUA, "203.0.113.7", map[string]string{"a": "1", "b": "2"}); e == a {
		t.Error("fingerprint ignores the user agent")
	}
}
