package models

import (
	"net/url"
	"path/filepath"
	"strings"
)

// DeriveSourceID returns the identifier used to correlate a video source
// with its sidecar artifacts (telemetry PDFs, joystick stats): the final
// path element with the extension removed. URL sources use only the path
// portion, so query strings and fragments never leak into the ID.
func DeriveSourceID(source string) string {
	s := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Path != "" {
		s = u.Path
	}
	base := filepath.Base(s)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
