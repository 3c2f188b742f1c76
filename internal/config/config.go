// Package config loads and validates the chatd settings file.
//
// The file holds one directive per line: Listen, MaxHandleName,
// MaxMessageLength, Timezone. Malformed directives are skipped with a
// warning so that a typo in one line never takes the whole snapshot down.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultAddress       = "127.0.0.1:8667"
	DefaultMaxHandleLen  = 32
	DefaultMaxMessageLen = 256
)

// ListenSpec names the network and address for one listener slot. Exactly
// one binding strategy is encoded: "tcp4" for IPv4 literals, "tcp6" for
// IPv6 literals other than the unspecified address, and "tcp" for bare
// ports and [::] (dual-stack, subject to the OS IPV6_V6ONLY default).
type ListenSpec struct {
	Network string `validate:"oneof=tcp tcp4 tcp6"`
	Address string `validate:"required"`
}

// Settings is one immutable configuration snapshot. A reload builds a new
// snapshot and swaps it wholesale; nothing ever mutates an existing one,
// so a reader can never observe a half-applied reload.
type Settings struct {
	Listen        ListenSpec `validate:"required"`
	MaxHandleLen  int        `validate:"gt=0"`
	MaxMessageLen int        `validate:"gt=0"`
	Location      *time.Location
}

var validate = validator.New()

// Load parses the settings file at path into a validated snapshot. The
// caller keeps its previous snapshot when Load returns an error.
func Load(path string, logger *slog.Logger) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Parse reads directives from r. Exposed separately from Load so tests can
// feed literal configurations without touching the filesystem.
func Parse(r io.Reader, logger *slog.Logger) (*Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Settings{
		MaxHandleLen:  DefaultMaxHandleLen,
		MaxMessageLen: DefaultMaxMessageLen,
		Location:      time.Local,
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, value, ok := strings.Cut(line, " ")
		if !ok {
			logger.Warn("ignoring malformed directive", "line", line)
			continue
		}
		value = strings.TrimSpace(value)

		switch directive {
		case "Listen":
			spec, err := ResolveListen(value)
			if err != nil {
				logger.Warn("ignoring Listen directive", "value", value, "error", err)
				continue
			}
			s.Listen = spec
		case "MaxHandleName":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				logger.Warn("ignoring MaxHandleName directive", "value", value)
				continue
			}
			s.MaxHandleLen = n
		case "MaxMessageLength":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				logger.Warn("ignoring MaxMessageLength directive", "value", value)
				continue
			}
			s.MaxMessageLen = n
		case "Timezone":
			loc, err := time.LoadLocation(value)
			if err != nil {
				logger.Warn("ignoring Timezone directive", "value", value, "error", err)
				continue
			}
			s.Location = loc
		default:
			logger.Warn("ignoring unknown directive", "directive", directive)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if s.Listen == (ListenSpec{}) {
		spec, err := ResolveListen(DefaultAddress)
		if err != nil {
			return nil, err
		}
		s.Listen = spec
	}

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// ResolveListen maps a Listen directive value to a concrete bind strategy:
//
//	8667               → [::]:8667 on "tcp" (dual-stack, OS-dependent for IPv4)
//	10.0.0.1:8667      → IPv4-only bind
//	[2001:db8::1]:8667 → IPv6-only bind
//	[::]:8667          → explicit dual-stack request, OS-dependent
func ResolveListen(value string) (ListenSpec, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ListenSpec{}, fmt.Errorf("empty listen value")
	}

	if !strings.Contains(value, ":") {
		if _, err := strconv.ParseUint(value, 10, 16); err != nil {
			return ListenSpec{}, fmt.Errorf("listen %q: not a port number", value)
		}
		return ListenSpec{Network: "tcp", Address: "[::]:" + value}, nil
	}

	host, _, err := net.SplitHostPort(value)
	if err != nil {
		return ListenSpec{}, fmt.Errorf("listen %q: %w", value, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ListenSpec{}, fmt.Errorf("listen %q: host is not an IP literal", value)
	}

	switch {
	case ip.To4() != nil:
		return ListenSpec{Network: "tcp4", Address: value}, nil
	case ip.IsUnspecified():
		return ListenSpec{Network: "tcp", Address: value}, nil
	default:
		return ListenSpec{Network: "tcp6", Address: value}, nil
	}
}
