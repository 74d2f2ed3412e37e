package useragent

import (
	"strings"

	mssola "github.com/mssola/useragent"
)

type mssolaInspector struct{}

func (mssolaInspector) Parse(userAgent string) *Info {
	if userAgent == "" {
		return &Info{}
	}

	ua := mssola.New(userAgent)
	browser, browserVersion := ua.Browser()
	engine, _ := ua.Engine()
	os := ua.OSInfo()

	info := &Info{
		OS:             os.Name,
		OSVersion:      os.Version,
		Browser:        browser,
		BrowserVersion: browserVersion,
		Engine:         engine,
		Model:          deviceModel(userAgent),
		robot:          ua.Bot(),
	}
	if info.Engine == "AppleWebKit" {
		info.Engine = "WebKit"
	}
	if !info.robot {
		switch {
		case isTablet(userAgent):
			info.tablet = true
		case ua.Mobile():
			info.mobile = true
		case info.OS != "":
			info.desktop = true
		}
	}
	return info.finish()
}

func isTablet(userAgent string) bool {
	if strings.Contains(userAgent, "iPad") || strings.Contains(userAgent, "Tablet") {
		return true
	}
	return strings.Contains(userAgent, "Android") && !strings.Contains(userAgent, "Mobile")
}

// deviceModel extracts the model token from the platform section, e.g.
// "Pixel 7" from "(Linux; Android 14; Pixel 7)".
func deviceModel(userAgent string) string {
	for _, apple := range []string{"iPhone", "iPad", "iPod"} {
		if strings.Contains(userAgent, "("+apple) {
			return apple
		}
	}

	start := strings.Index(userAgent, "(")
	end := strings.Index(userAgent, ")")
	if start < 0 || end <= start || !strings.Contains(userAgent[start:end], "Android") {
		return ""
	}

	var model string
	for _, part := range strings.Split(userAgent[start+1:end], ";") {
		part = strings.TrimSpace(part)
		if part == "" || part == "Linux" || part == "U" || part == "wv" || part == "K" ||
			strings.HasPrefix(part, "Android") || len(part) == 5 && part[2] == '-' {
			continue
		}
		model = part
	}
	if idx := strings.Index(model, " Build/"); idx >= 0 {
		model = model[:idx]
	}
	return model
}
