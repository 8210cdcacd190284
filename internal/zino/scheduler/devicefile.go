// Package scheduler owns the per-device polling loop: parsing the legacy
// device file, reconciling it against the live device registry, running
// the task pipeline on a randomly staggered ticker per device, and
// scheduling the back-off probes and periodic housekeeping jobs (flap
// decay, planned-maintenance matching, snapshot persistence).
package scheduler

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zinolabs/zino/internal/zino/model"
)

// DeviceFileError reports a malformed device-file line: a message plus
// the file location that produced it.
type DeviceFileError struct {
	Line int
	Msg  string
}

func (e *DeviceFileError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ParseDeviceFile reads the legacy polldevs-style device file: blank-line
// separated sections of "key: value" lines, where a key of the form
// "default X" updates a running default instead of starting a device
// block. Comment lines (leading '#') are ignored.
func ParseDeviceFile(r io.Reader) ([]*model.Device, error) {
	sections, err := readConfSections(r)
	if err != nil {
		return nil, err
	}

	defaults := make(map[string]string)
	var devices []*model.Device
	for _, sec := range sections {
		if containsDefaults(sec.fields) {
			for k, v := range parseDefaults(sec.fields) {
				defaults[k] = v
			}
			continue
		}

		merged := make(map[string]string, len(defaults)+len(sec.fields))
		for k, v := range defaults {
			merged[k] = v
		}
		for k, v := range sec.fields {
			merged[k] = v
		}

		dev, err := buildDevice(merged)
		if err != nil {
			return nil, &DeviceFileError{Line: sec.firstLine, Msg: err.Error()}
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

type rawSection struct {
	firstLine int
	fields    map[string]string
}

func readConfSections(r io.Reader) ([]rawSection, error) {
	var sections []rawSection
	section := make(map[string]string)
	firstLine := 0
	lineno := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineno++
		if firstLine == 0 {
			firstLine = lineno
		}
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == "" {
			if len(section) > 0 {
				sections = append(sections, rawSection{firstLine: firstLine, fields: section})
				section = make(map[string]string)
			}
			firstLine = 0
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &DeviceFileError{Line: lineno, Msg: fmt.Sprintf("%q is not a valid configuration line", line)}
		}
		section[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(section) > 0 {
		sections = append(sections, rawSection{firstLine: firstLine, fields: section})
	}
	return sections, nil
}

func containsDefaults(fields map[string]string) bool {
	for k := range fields {
		if strings.HasPrefix(k, "default ") {
			return true
		}
	}
	return false
}

func parseDefaults(fields map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range fields {
		if rest, ok := strings.CutPrefix(k, "default "); ok {
			out[rest] = v
		}
	}
	return out
}

func buildDevice(f map[string]string) (*model.Device, error) {
	name := f["name"]
	if name == "" {
		return nil, fmt.Errorf("device block is missing required field %q", "name")
	}
	address := f["address"]
	if address == "" {
		return nil, fmt.Errorf("device %q is missing required field %q", name, "address")
	}

	dev := model.NewDevice(name, address)

	if v, ok := f["community"]; ok {
		dev.Community = v
	}
	if v, ok := f["port"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("device %q: invalid port %q: %w", name, v, err)
		}
		dev.Port = n
	}
	if v, ok := f["interval"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("device %q: invalid interval %q: %w", name, v, err)
		}
		dev.Interval = time.Duration(n) * time.Minute
	}
	if v, ok := f["priority"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("device %q: invalid priority %q: %w", name, v, err)
		}
		dev.Priority = n
	}
	if v, ok := f["timeout"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("device %q: invalid timeout %q: %w", name, v, err)
		}
		dev.Timeout = time.Duration(n) * time.Second
	}
	if v, ok := f["retries"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("device %q: invalid retries %q: %w", name, v, err)
		}
		dev.Retries = n
	}
	if v, ok := f["statistics"]; ok {
		dev.Statistics = parseBool(v)
	}
	if v, ok := f["hcounters"]; ok {
		dev.HCounters = parseBool(v)
	}
	if v, ok := f["do_bgp"]; ok {
		dev.DoBGP = parseBool(v)
	}
	if v, ok := f["watchpat"]; ok && v != "" {
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, fmt.Errorf("device %q: invalid watchpat %q: %w", name, v, err)
		}
		dev.WatchPat = re
	}
	if v, ok := f["ignorepat"]; ok && v != "" {
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, fmt.Errorf("device %q: invalid ignorepat %q: %w", name, v, err)
		}
		dev.IgnorePat = re
	}

	return dev, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "":
		return false
	default:
		return true
	}
}
