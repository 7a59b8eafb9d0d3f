package dom

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Product is the product token used in the host user agent.
const Product = "fraudsignal/0.3"

// Navigator carries the browser identity strings.
type Navigator struct {
	UserAgent string
	Platform  string
	Language  string
}

// Screen is the display surface size in CSS pixels.
type Screen struct {
	Width  int
	Height int
}

// Window bundles a document with the platform attributes a page can read.
// A nil Screen means no display surface is available.
type Window struct {
	Document         *Document
	Navigator        Navigator
	Screen           *Screen
	DevicePixelRatio float64

	// TimeZone returns the IANA zone name. Nil means the platform exposes
	// no timezone API.
	TimeZone func() (string, error)
}

// HostWindow wraps doc with attributes read from the Go host: a product
// user agent, GOOS/GOARCH platform, the BCP 47 form of LC_ALL/LANG and the
// local IANA zone. It has no screen.
func HostWindow(doc *Document) *Window {
	return &Window{
		Document: doc,
		Navigator: Navigator{
			UserAgent: fmt.Sprintf("%s (%s; %s)", Product, runtime.GOOS, runtime.GOARCH),
			Platform:  hostPlatform(),
			Language:  hostLanguage(),
		},
		TimeZone: HostTimeZone,
	}
}

func hostPlatform() string {
	goos := runtime.GOOS
	if goos == "" {
		return ""
	}
	arch := runtime.GOARCH
	if arch == "amd64" {
		arch = "x86_64"
	}
	return strings.ToUpper(goos[:1]) + goos[1:] + " " + arch
}

// hostLanguage reads the POSIX locale and reports it the way a browser
// would: "de_DE.UTF-8" becomes "de-DE". Values that do not parse as a
// language tag are dropped.
func hostLanguage() string {
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" && v != "C" && v != "POSIX" {
			return posixToBCP47(v)
		}
	}
	return ""
}

func posixToBCP47(v string) string {
	// strip codeset and modifier: en_US.UTF-8@euro
	if i := strings.IndexAny(v, ".@"); i > 0 {
		v = v[:i]
	}
	t, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
	if err != nil {
		return ""
	}
	return t.String()
}

// ErrNoTimeZone is returned when the host zone cannot be named.
var ErrNoTimeZone = errors.New("dom: local time zone has no IANA name")

// HostTimeZone names the host's local zone: time.Local if it carries an
// IANA name, then $TZ, then the /etc/localtime symlink target.
func HostTimeZone() (string, error) {
	if name := time.Local.String(); name != "" && name != "Local" && name != "UTC" {
		return name, nil
	}
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz, nil
		}
	}
	if target, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
		if _, zone, ok := strings.Cut(target, "zoneinfo/"); ok && zone != "" {
			return zone, nil
		}
	}
	if time.Local.String() == "UTC" {
		return "UTC", nil
	}
	return "", ErrNoTimeZone
}
