package ingest

import (
	"regexp"
	"strings"
)

var (
	filenameStrip = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

	// Reserved device names on Windows file systems.
	windowsDeviceNames = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true,
		"LPT1": true, "LPT2": true, "LPT3": true,
	}
)

// SecureFilename reduces name to a safe, flat ASCII file name.
// Path separators become underscores, other characters outside
// [A-Za-z0-9_.-] are dropped, and leading or trailing dots and
// underscores are trimmed. The result may be empty.
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = filenameStrip.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")

	stem := strings.ToUpper(strings.SplitN(name, ".", 2)[0])
	if windowsDeviceNames[stem] {
		name = "_" + name
	}
	return name
}
