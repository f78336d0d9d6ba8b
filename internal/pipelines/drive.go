package pipelines

import (
	"regexp"
	"strings"
)

var driveFileRe = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)
var driveIDParamRe = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)

// DriveDownloadURL converts a Google Drive share link into a direct download
// link. ok is false for anything that is not a Drive link.
func DriveDownloadURL(u string) (direct string, ok bool) {
	if !strings.Contains(u, "drive.google.com") {
		return "", false
	}
	m := driveFileRe.FindStringSubmatch(u)
	if m == nil {
		m = driveIDParamRe.FindStringSubmatch(u)
	}
	if m == nil {
		return "", false
	}
	return "https://drive.google.com/uc?export=download&id=" + m[1], true
}
