package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// MonitorSpec is one monitor line of the monitors file.
type MonitorSpec struct {
	// Line is the 1-based physical line number.
	Line int
	// Raw is the line without its line terminator.
	Raw string
	// Args is the space separated token list; Args[0] is the selector.
	Args []string
}

// LoadMonitorSpecs reads the monitors file at path.
func LoadMonitorSpecs(path string) ([]MonitorSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open monitors file: %w", err)
	}
	defer f.Close()

	specs, err := ParseMonitorSpecs(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read monitors file %s: %w", path, err)
	}
	return specs, nil
}

// ParseMonitorSpecs splits r into monitor specifications. Blank lines and
// lines whose first token starts with '#' are skipped. Tokens are separated by
// runs of spaces.
func ParseMonitorSpecs(r io.Reader) ([]MonitorSpec, error) {
	var specs []MonitorSpec

	reader := bufio.NewReader(r)
	for line := 1; ; line++ {
		text, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		if text == "" && err == io.EOF {
			break
		}

		raw := strings.TrimRight(text, "\r\n")
		args := splitTokens(raw)
		if len(args) > 0 && !strings.HasPrefix(args[0], "#") {
			specs = append(specs, MonitorSpec{Line: line, Raw: raw, Args: args})
		}

		if err == io.EOF {
			break
		}
	}

	return specs, nil
}

func splitTokens(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool { return r == ' ' })
}
