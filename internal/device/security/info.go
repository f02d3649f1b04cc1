package security

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/mssola/useragent"

	"sitekeeper/internal/device/domain"
	sessiondomain "sitekeeper/internal/session/domain"
)

// Client hint headers read by ExtractDeviceInfo.
const (
	HeaderDeviceName       = "X-Device-Name"
	HeaderPlatformHint     = "Sec-CH-UA-Platform"
	HeaderAcceptLanguage   = "Accept-Language"
	HeaderTimezone         = "X-Timezone"
	HeaderScreenResolution = "X-Screen-Resolution"
)

// ExtractDeviceInfo parses the user agent and client hints. It never fails; anything that cannot be
// determined is domain.Unknown.
func ExtractDeviceInfo(userAgent, ip string, headers map[string]string) domain.DeviceInfo {
	info := domain.DeviceInfo{
		UserAgent:        userAgent,
		IPAddress:        ip,
		Type:             sessiondomain.DeviceUnknown,
		OperatingSystem:  domain.Unknown,
		Browser:          domain.Unknown,
		Platform:         domain.Unknown,
		Language:         orUnknown(firstLanguage(header(headers, HeaderAcceptLanguage))),
		Timezone:         orUnknown(header(headers, HeaderTimezone)),
		ScreenResolution: orUnknown(header(headers, HeaderScreenResolution)),
	}
	if ua := strings.TrimSpace(userAgent); ua != "" {
		parsed := useragent.New(ua)
		info.IsBot = parsed.Bot()
		if name, _ := parsed.Browser(); name != "" {
			info.Browser = name
		}
		if p := parsed.Platform(); p != "" {
			info.Platform = p
		}
		osInfo := parsed.OSInfo()
		if osName := strings.TrimSpace(osInfo.Name + " " + osInfo.Version); osName != "" {
			info.OperatingSystem = osName
		}
		info.Type = deviceType(parsed, ua, info.OperatingSystem)
	}
	if hint := strings.Trim(header(headers, HeaderPlatformHint), `" `); hint != "" {
		if info.Platform == domain.Unknown {
			info.Platform = hint
		}
		if info.OperatingSystem == domain.Unknown {
			info.OperatingSystem = hint
		}
	}
	info.Name = header(headers, HeaderDeviceName)
	if info.Name == "" {
		info.Name = domain.Unknown
		if info.Browser != domain.Unknown && info.OperatingSystem != domain.Unknown {
			info.Name = info.Browser + " on " + info.OperatingSystem
		}
	}
	return info
}

func deviceType(ua *useragent.UserAgent, raw, os string) sessiondomain.DeviceType {
	lower := strings.ToLower(raw)
	switch {
	case ua.Platform() == "iPad", strings.Contains(lower, "tablet"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return sessiondomain.DeviceTablet
	case ua.Mobile():
		return sessiondomain.DeviceMobile
	case os != domain.Unknown && !ua.Bot():
		return sessiondomain.DeviceDesktop
	}
	return sessiondomain.DeviceUnknown
}

// GenerateFingerprint returns the SHA-256 hex digest of the device attributes, the raw user agent,
// the IP and any extra attributes, concatenated in key order. Identical inputs give identical output.
// The IP is included, so the same browser behind a new address is a new device.
func GenerateFingerprint(info domain.DeviceInfo, userAgent, ip string, extra map[string]string) string {
	attrs := map[string]string{
		"ua":       userAgent,
		"ip":       ip,
		"type":     string(info.Type),
		"os":       info.OperatingSystem,
		"browser":  info.Browser,
		"platform": info.Platform,
		"lang":     info.Language,
		"tz":       info.Timezone,
		"screen":   info.ScreenResolution,
	}
	for k, v := range extra {
		attrs["x."+k] = v
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.TrimSpace(first)
}

func orUnknown(s string) string {
	if s == "" {
		return domain.Unknown
	}
	return s
}
