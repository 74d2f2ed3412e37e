package useragent

import (
	mileusna "github.com/mileusna/useragent"
)

type mileusnaInspector struct{}

func (mileusnaInspector) Parse(userAgent string) *Info {
	if userAgent == "" {
		return &Info{}
	}

	ua := mileusna.Parse(userAgent)
	info := &Info{
		OS:             ua.OS,
		OSVersion:      ua.OSVersion,
		Browser:        ua.Name,
		BrowserVersion: ua.Version,
		Model:          ua.Device,
		robot:          ua.Bot,
	}
	if !ua.Bot {
		switch {
		case ua.Tablet:
			info.tablet = true
		case ua.Mobile:
			info.mobile = true
		case ua.Desktop:
			info.desktop = true
		}
	}
	return info.finish()
}
