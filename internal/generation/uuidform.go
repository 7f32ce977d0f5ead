package generation

import (
	"strings"

	"github.com/mineskin-ng/skingen/internal/errs"
)

// longUUID inserts dashes into a bare 32-hex-character uuid; a uuid that
// already carries dashes is re-dashed in the standard positions. The
// result is always lowercase.
func longUUID(s string) (string, error) {
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))
	if len(s) != 32 {
		return "", errs.Newf(errs.KindInvalidSkinData, "malformed user uuid %q", s)
	}
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32], nil
}

// shortUUID strips dashes from a uuid.
func shortUUID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ""))
}
