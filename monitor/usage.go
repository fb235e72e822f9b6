package monitor

import "strings"

var usages = map[string]string{
	selectorFile: `Monitors file system events of a single file.

Usage: slm watch --file [watch_options] path_to_file
  path_to_file   full path to the monitored file
  watch_options (may be combined, e.g. -wd):
    -o   file opened
    -w   file changed
    -c   file closed
    -m   file moved
    -d   file deleted
`,
	selectorDisks: `Monitors disk events (disk added/removed).

Usage: slm watch --disks
`,
	selectorNetwork: `Monitors networking state changes.

Usage: slm watch --network
`,
	selectorPower: `Monitors power supply events (power on/off).

Usage: slm watch --power
`,
	selectorBluetooth: `Monitors bluetooth events (bluetooth on/off).

Usage: slm watch --bluetooth
`,
	selectorDevice: `Monitors devices of one class being added or removed.

Usage: slm watch --device class
  class   kernel subsystem name, e.g. usb, block or input
`,
}

// Selectors lists every selector New accepts.
func Selectors() []string {
	return []string{selectorFile, selectorDisks, selectorNetwork, selectorPower, selectorBluetooth, selectorDevice}
}

// Usage returns help for one selector, or a summary of all of them when the
// selector is unknown or empty.
func Usage(selector string) string {
	if text, ok := usages[selector]; ok {
		return text
	}

	var b strings.Builder
	b.WriteString("Usage: slm watch <selector> [arguments]\n\nSelectors:\n")
	for _, s := range Selectors() {
		b.WriteString("  ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("\nRun 'slm watch <selector> -h' for the arguments of one selector.\n")
	return b.String()
}
