// Package timezone publishes the system timezone identifier as a property.
package timezone

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	// Identifiers must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"

	appLog "clockcal/internal/log"
	"clockcal/internal/metrics"
	"clockcal/internal/property"
	"clockcal/internal/watcher"
)

// DefaultFile is the conventional Debian-style timezone file.
const DefaultFile = "/etc/timezone"

// Timezone is a source of the current timezone identifier.
type Timezone interface {
	Timezone() *property.Property[string]
}

// FileTimezone keeps its property in sync with the first significant line
// of a text file.
//
// Construction, Reload, the watch callback and Close are expected to run on
// the same goroutine (the loop); the watch service is configured to deliver
// there.
type FileTimezone struct {
	timezone *property.Property[string]
	filename string
	handle   watcher.Handle
}

// NewFileTimezone resolves filename, starts watching it and loads the current
// value. It never fails: a path that cannot be resolved is used as given, and
// a watch that cannot be set up only costs live updates.
func NewFileTimezone(filename string, watch watcher.Service) *FileTimezone {
	f := &FileTimezone{
		timezone: property.NewComparable(""),
		filename: resolvePath(filename),
	}

	if watch == nil {
		appLog.Warn("no watch service; timezone file will not be monitored", nil, "path", f.filename)
	} else if h, err := watch.Watch(f.filename, f.Reload); err != nil {
		appLog.Warn("unable to monitor timezone file", err, "path", f.filename)
	} else {
		f.handle = h
		appLog.Debug("monitoring timezone file", "path", f.filename)
	}

	f.Reload()
	return f
}

func resolvePath(filename string) string {
	resolved, err := filepath.EvalSymlinks(filename)
	if err == nil {
		resolved, err = filepath.Abs(resolved)
	}
	if err != nil {
		appLog.Warn("unable to resolve path", err, "path", filename)
		return filename
	}
	return resolved
}

// Timezone returns the published identifier. It stays empty until the file
// yields a value at least once.
func (f *FileTimezone) Timezone() *property.Property[string] {
	return f.timezone
}

// Filename returns the path being read, after resolution.
func (f *FileTimezone) Filename() string {
	return f.filename
}

// Reload re-reads the file and publishes a non-empty result. Failures and
// empty files keep the previous value.
func (f *FileTimezone) Reload() {
	tz, err := ReadTimezoneFile(f.filename)
	switch {
	case err != nil:
		appLog.Warn("unable to read timezone file", err, "path", f.filename)
		metrics.TimezoneReloads.WithLabelValues("error").Inc()
	case tz == "":
		appLog.Warn("timezone file has no timezone line", nil, "path", f.filename)
		metrics.TimezoneReloads.WithLabelValues("empty").Inc()
	default:
		metrics.TimezoneReloads.WithLabelValues("published").Inc()
		f.timezone.Set(tz)
	}
}

// Close stops watching the file.
func (f *FileTimezone) Close() error {
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	return err
}

// ReadTimezoneFile returns the first line that is neither blank nor a
// '#' comment, trimmed. It stops reading at that line. A file with no such
// line yields "" and no error.
func ReadTimezoneFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	r := bufio.NewReader(file)
	for {
		raw, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line := strings.TrimSpace(raw)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line, nil
		}
		if err != nil {
			return "", nil
		}
	}
}

// StaticTimezone is a fixed identifier, used when no timezone file is
// configured.
type StaticTimezone struct {
	timezone *property.Property[string]
}

func NewStaticTimezone(name string) *StaticTimezone {
	return &StaticTimezone{timezone: property.NewComparable(name)}
}

func (s *StaticTimezone) Timezone() *property.Property[string] {
	return s.timezone
}

// Location resolves an identifier, falling back to time.Local for empty or
// unknown names.
func Location(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Warn("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
