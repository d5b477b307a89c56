package userconfig

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/alecthomas/units"
	dunits "github.com/docker/go-units"
	"github.com/ptgott/redisstore/output"
	"github.com/ptgott/redisstore/storage"
	"github.com/ptgott/redisstore/tracing"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// The spool is checked at least once a second. Anything faster just burns
// CPU listing an empty directory.
const minDurationMS int64 = 1000 // using MS since it's an int not a float

const (
	defaultInterval = 10 * time.Second
	defaultWorkers  = 4
	// A chunk larger than this is probably not a chunk
	defaultMaxChunkSize = 64 * dunits.MiB
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Output Output `yaml:"output"`
	Spool  Spool  `yaml:"spool"`
	// Optional. Without it, skipped records are only logged.
	Rejects *storage.KVConfig `yaml:"rejects"`
	Tracing tracing.Config    `yaml:"tracing"`
}

// Output holds the raw output options as written by the user and, after
// CheckAndSetDefaults, the validated form.
type Output struct {
	Options map[string]string
	Config  output.Config
}

// UnmarshalYAML keeps every option as a string. output.ParseOptions does
// the actual parsing, so the file and any other source of options share
// the same rules.
func (o *Output) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the output config: %v", err)
	}
	o.Options = v
	return nil
}

// CheckAndSetDefaults validates o and returns a copy with Config filled in
func (o *Output) CheckAndSetDefaults() (Output, error) {
	c, err := output.ParseOptions(o.Options)
	if err != nil {
		return Output{}, err
	}
	return Output{Options: o.Options, Config: c}, nil
}

// Spool contains config options for the directory of chunks waiting to be
// flushed
type Spool struct {
	Directory string
	Interval  time.Duration
	// Number of chunks flushed at once
	Workers int
	// Chunks larger than this are rejected without being read
	MaxChunkSize int64
	// Flush the spool once, then exit
	OneOff bool
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *Spool) CheckAndSetDefaults() (Spool, error) {
	if s.Directory == "" {
		return Spool{}, errors.New(
			"user-provided config does not include a spool directory",
		)
	}

	if s.Interval == 0 {
		s.Interval = defaultInterval
	}
	if i := s.Interval.Milliseconds(); i < minDurationMS {
		return Spool{}, fmt.Errorf("spool interval must be at least %v seconds", minDurationMS/1000)
	}

	if s.Workers == 0 {
		s.Workers = defaultWorkers
	}
	if s.Workers < 0 {
		return Spool{}, errors.New("the number of spool workers can't be negative")
	}

	if s.MaxChunkSize == 0 {
		s.MaxChunkSize = defaultMaxChunkSize
	}
	if s.MaxChunkSize < 0 {
		return Spool{}, errors.New("the maximum chunk size can't be negative")
	}

	return *s, nil
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (s *Spool) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the spool config: %v", err)
	}

	s.Directory = v["directory"]

	if d, ok := v["interval"]; ok {
		s.Interval, err = time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf(
				"can't parse the user-provided spool interval as a duration: %v",
				err,
			)
		}
	}

	if w, ok := v["workers"]; ok {
		s.Workers, err = strconv.Atoi(w)
		if err != nil {
			return fmt.Errorf("can't parse the number of workers as an integer")
		}
	}

	if m, ok := v["maxChunkSize"]; ok {
		b, err := units.ParseBase2Bytes(m)
		if err != nil {
			return fmt.Errorf("can't parse the maximum chunk size, e.g. \"64MiB\": %v", err)
		}
		s.MaxChunkSize = int64(b)
	}

	return nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{
		Rejects: m.Rejects,
		Tracing: m.Tracing,
	}

	o, err := m.Output.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Output = o

	s, err := m.Spool.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Spool = s

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracing.DefaultServiceName
	}

	return c, nil
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing or validation. The Reader r
// can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	if len(m.Output.Options) == 0 {
		return &Meta{}, errors.New("must include an \"output\" section")
	}

	var sc Spool = Spool{}
	if m.Spool == sc {
		return &Meta{}, errors.New("must include a \"spool\" section")
	}

	if m.Rejects == nil {
		log.Debug().Msg(
			"no rejects section, so skipped records will only be logged",
		)
	}

	return &m, nil

}
