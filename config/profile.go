// Package config loads instrument profiles from TOML files.
//
// A profile names the network address of an instrument together with the
// communication attributes it expects:
//
//	host = "169.254.10.1"
//	port = 5025
//	timeout = "5s"
//
//	[attributes]
//	read_terminator = "\n"
//	write_terminator = "\n"
//	operation_delay = "1ms"
//	chunk_size = 1024
//	encoding = "utf-8"
//
// Keys that are absent keep their defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arloliu/go-visa/visa"
)

// DefaultTimeout is the connection timeout of a profile that does not set one.
const DefaultTimeout = 2 * time.Second

// ErrInvalidProfile indicates a profile with a missing or out of range value.
var ErrInvalidProfile = errors.New("config: invalid profile")

// Profile describes how to reach and talk to one instrument.
type Profile struct {
	Host       string
	Port       int
	Timeout    time.Duration
	Attributes visa.Attributes
}

// Address returns the profile address in host:port form.
func (p Profile) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

type fileProfile struct {
	Host       string         `toml:"host"`
	Port       int            `toml:"port"`
	Timeout    string         `toml:"timeout"`
	Attributes fileAttributes `toml:"attributes"`
}

type fileAttributes struct {
	ReadTerminator  string `toml:"read_terminator"`
	WriteTerminator string `toml:"write_terminator"`
	OperationDelay  string `toml:"operation_delay"`
	ChunkSize       int    `toml:"chunk_size"`
	Encoding        string `toml:"encoding"`
}

// LoadProfile reads the profile stored at path.
func LoadProfile(path string) (Profile, error) {
	var raw fileProfile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Profile{}, fmt.Errorf("config: load profile %s: %w", path, err)
	}

	return buildProfile(meta, raw)
}

// ParseProfile parses a profile from TOML text.
func ParseProfile(data []byte) (Profile, error) {
	var raw fileProfile
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Profile{}, fmt.Errorf("config: parse profile: %w", err)
	}

	return buildProfile(meta, raw)
}

func buildProfile(meta toml.MetaData, raw fileProfile) (Profile, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Profile{}, fmt.Errorf("%w: unknown key %q", ErrInvalidProfile, undecoded[0].String())
	}

	p := Profile{
		Host:       strings.TrimSpace(raw.Host),
		Port:       raw.Port,
		Timeout:    DefaultTimeout,
		Attributes: visa.DefaultAttributes(),
	}

	if p.Host == "" {
		return Profile{}, fmt.Errorf("%w: host is required", ErrInvalidProfile)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return Profile{}, fmt.Errorf("%w: port %d out of range", ErrInvalidProfile, p.Port)
	}

	if meta.IsDefined("timeout") {
		d, err := parseDuration("timeout", raw.Timeout)
		if err != nil {
			return Profile{}, err
		}
		if d <= 0 {
			return Profile{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidProfile)
		}
		p.Timeout = d
	}

	attrs := &p.Attributes
	if meta.IsDefined("attributes", "read_terminator") {
		attrs.ReadTerminator = raw.Attributes.ReadTerminator
	}
	if meta.IsDefined("attributes", "write_terminator") {
		attrs.WriteTerminator = raw.Attributes.WriteTerminator
	}
	if meta.IsDefined("attributes", "operation_delay") {
		d, err := parseDuration("operation_delay", raw.Attributes.OperationDelay)
		if err != nil {
			return Profile{}, err
		}
		attrs.OperationDelay = d
	}
	if meta.IsDefined("attributes", "chunk_size") {
		attrs.ChunkSize = raw.Attributes.ChunkSize
	}
	if meta.IsDefined("attributes", "encoding") {
		enc, err := visa.LookupEncoding(raw.Attributes.Encoding)
		if err != nil {
			return Profile{}, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
		attrs.Encoding = enc
	}

	if err := attrs.Validate(); err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	return p, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %w", ErrInvalidProfile, key, err)
	}

	return d, nil
}
