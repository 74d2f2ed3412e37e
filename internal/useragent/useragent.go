// Package useragent turns raw User-Agent headers into the browser, OS and
// device details stored with a visit. Parsing is delegated to a swappable
// driver.
package useragent

import (
	"errors"
	"fmt"
	"strings"

	"tether-go/internal/models"
)

const (
	DriverMileusna = "mileusna"
	DriverMssola   = "mssola"
)

var ErrUnknownDriver = errors.New("unknown user agent driver")

// Info is the parsed form of a User-Agent header. At most one of the device
// class flags is set.
type Info struct {
	OS             string
	OSAlias        string
	OSVersion      string
	Browser        string
	BrowserVersion string
	Engine         string
	Manufacturer   string
	Model          string

	desktop bool
	mobile  bool
	tablet  bool
	robot   bool
}

func (i *Info) IsDesktop() bool { return i.desktop }
func (i *Info) IsMobile() bool  { return i.mobile }
func (i *Info) IsTablet() bool  { return i.tablet }
func (i *Info) IsRobot() bool   { return i.robot }

// DeviceType classifies the device, checking desktop, mobile, tablet and
// robot in that order. It returns "" when nothing matches.
func (i *Info) DeviceType() string {
	switch {
	case i.IsDesktop():
		return models.DeviceTypeDesktop
	case i.IsMobile():
		return models.DeviceTypeMobile
	case i.IsTablet():
		return models.DeviceTypeTablet
	case i.IsRobot():
		return models.DeviceTypeRobot
	default:
		return ""
	}
}

// Inspector parses User-Agent strings
type Inspector interface {
	Parse(userAgent string) *Info
}

// New returns the inspector for driver
func New(driver string) (Inspector, error) {
	switch driver {
	case DriverMileusna, "":
		return mileusnaInspector{}, nil
	case DriverMssola:
		return mssolaInspector{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

// finish fills the derived fields shared by every driver
func (i *Info) finish() *Info {
	i.OS = normalizeOS(i.OS)
	if i.robot {
		// crawlers report whatever OS they like
		i.OS, i.OSAlias, i.OSVersion = "", "", ""
	} else {
		i.OSAlias = osAlias(i.OS, i.OSVersion)
	}
	if engine := engineFor(i.Browser, i.OS); engine != "" {
		i.Engine = engine
	}
	if i.Manufacturer == "" {
		i.Manufacturer = manufacturerFor(i.Model, i.OS)
	}
	return i
}

func normalizeOS(name string) string {
	switch strings.ToLower(name) {
	case "mac os x", "macos", "intel mac os x":
		return "macOS"
	case "iphone os", "cpu os", "cpu iphone os", "ios":
		return "iOS"
	case "chromeos", "chrome os", "cros":
		return "ChromeOS"
	default:
		return name
	}
}

var windowsAliases = map[string]string{
	"10.0": "Windows 10",
	"10":   "Windows 10",
	"6.3":  "Windows 8.1",
	"8.1":  "Windows 8.1",
	"6.2":  "Windows 8",
	"8":    "Windows 8",
	"6.1":  "Windows 7",
	"7":    "Windows 7",
	"6.0":  "Windows Vista",
	"5.1":  "Windows XP",
	"XP":   "Windows XP",
}

// osAlias returns a human readable name such as "Windows 10" or "iOS 17".
func osAlias(os, version string) string {
	if os == "" {
		return ""
	}
	if os == "Windows" {
		if alias, ok := windowsAliases[version]; ok {
			return alias
		}
	}
	major := majorVersion(version)
	if major == "" {
		return os
	}
	if os == "macOS" && major == "10" {
		// pre Big Sur releases are distinguished by their minor version
		parts := strings.SplitN(strings.ReplaceAll(version, "_", "."), ".", 3)
		if len(parts) > 1 {
			return os + " 10." + parts[1]
		}
	}
	return os + " " + major
}

func majorVersion(version string) string {
	version = strings.ReplaceAll(version, "_", ".")
	if idx := strings.Index(version, "."); idx >= 0 {
		return version[:idx]
	}
	return version
}

func engineFor(browser, os string) string {
	if os == "iOS" {
		return "WebKit"
	}
	switch browser {
	case "Chrome", "Edge", "Opera", "Brave", "Vivaldi", "Samsung Browser", "Chromium", "YaBrowser":
		return "Blink"
	case "Safari":
		return "WebKit"
	case "Firefox":
		return "Gecko"
	case "Internet Explorer":
		return "Trident"
	default:
		return ""
	}
}

var manufacturerPrefixes = []struct {
	prefix       string
	manufacturer string
}{
	{"iphone", "Apple"},
	{"ipad", "Apple"},
	{"ipod", "Apple"},
	{"mac", "Apple"},
	{"pixel", "Google"},
	{"nexus", "Google"},
	{"sm-", "Samsung"},
	{"galaxy", "Samsung"},
	{"samsung", "Samsung"},
	{"redmi", "Xiaomi"},
	{"poco", "Xiaomi"},
	{"mi ", "Xiaomi"},
	{"xiaomi", "Xiaomi"},
	{"huawei", "Huawei"},
	{"oneplus", "OnePlus"},
	{"moto", "Motorola"},
	{"nokia", "Nokia"},
	{"lg-", "LG"},
	{"xperia", "Sony"},
	{"oppo", "Oppo"},
	{"cph", "Oppo"},
	{"vivo", "Vivo"},
}

func manufacturerFor(model, os string) string {
	lower := strings.ToLower(model)
	for _, m := range manufacturerPrefixes {
		if strings.HasPrefix(lower, m.prefix) {
			return m.manufacturer
		}
	}
	if os == "iOS" || os == "macOS" {
		return "Apple"
	}
	return ""
}
