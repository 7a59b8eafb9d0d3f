package enrich

import (
	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/dom"
)

// TimeZone returns the window's IANA zone name, or nil when the platform
// has no timezone API, the call fails or panics, or the name is empty.
func TimeZone(w *dom.Window) (tz *string) {
	defer func() {
		if recover() != nil {
			tz = nil
		}
	}()
	if w == nil || w.TimeZone == nil {
		return nil
	}
	name, err := w.TimeZone()
	if err != nil || name == "" {
		return nil
	}
	return &name
}

// Language returns the browser locale tag exactly as the navigator reports
// it. Missing navigator yields "".
func Language(w *dom.Window) (tag string) {
	defer func() {
		if recover() != nil {
			tag = ""
		}
	}()
	if w == nil {
		return ""
	}
	return w.Navigator.Language
}

// Device reads the fingerprint sub-object. An absent screen yields a nil
// Screen; an unset pixel ratio reports 1.
func Device(w *dom.Window) (info check.DeviceInfo) {
	defer func() {
		if recover() != nil {
			info.Screen = nil
		}
	}()
	if w == nil {
		return check.DeviceInfo{}
	}
	info = check.DeviceInfo{
		UserAgent: w.Navigator.UserAgent,
		Platform:  w.Navigator.Platform,
		Language:  Language(w),
	}
	if w.Screen != nil {
		ratio := w.DevicePixelRatio
		if ratio <= 0 {
			ratio = 1
		}
		info.Screen = &check.Screen{
			Width:      w.Screen.Width,
			Height:     w.Screen.Height,
			PixelRatio: ratio,
		}
	}
	return info
}

// UserAgent returns the navigator user agent, "" when unavailable.
func UserAgent(w *dom.Window) string {
	if w == nil {
		return ""
	}
	return w.Navigator.UserAgent
}
