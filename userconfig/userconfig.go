package userconfig

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ptgott/hbase-template/storage"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// Backend selects the storage.Store implementation to connect to.
type Backend string

const (
	BackendHBase Backend = "hbase"
	BackendLocal Backend = "local"
	BackendNoop  Backend = "noop"
)

const (
	// DefaultBatchPutLimit is the largest batch PutBatch accepts unless the
	// config says otherwise.
	DefaultBatchPutLimit = 2000000
	defaultZnodeParent   = "/hbase"
	defaultProbeTimeout  = 10 * time.Second
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Store StoreConfig      `yaml:"store"`
	Local storage.KVConfig `yaml:"local"`
}

// StoreConfig describes how to reach the store and how to authenticate.
type StoreConfig struct {
	Backend     Backend
	Quorum      string
	ZnodeParent string
	// Maximum number of puts in a single PutBatch
	BatchPutLimit int
	// How long a freshly built HBase connection has to answer
	ProbeTimeout time.Duration
	// Free-form settings from the "config" section. They are copied into
	// every Snapshot last, so they override everything else.
	Settings map[string]string
	// Chosen from Settings at parse time
	Auth Auth
}

type rawStoreConfig struct {
	Backend       string            `yaml:"backend"`
	Quorum        string            `yaml:"quorum"`
	ZnodeParent   string            `yaml:"znodeParent"`
	BatchPutLimit int               `yaml:"batchPutLimit"`
	ProbeTimeout  string            `yaml:"probeTimeout"`
	Config        map[string]string `yaml:"config"`
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (s *StoreConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var r rawStoreConfig
	if err := unmarshal(&r); err != nil {
		return fmt.Errorf("can't parse the store config: %v", err)
	}

	s.Backend = Backend(strings.ToLower(r.Backend))
	s.Quorum = r.Quorum
	s.ZnodeParent = r.ZnodeParent
	s.BatchPutLimit = r.BatchPutLimit
	s.Settings = r.Config

	if r.ProbeTimeout != "" {
		d, err := time.ParseDuration(r.ProbeTimeout)
		if err != nil {
			return fmt.Errorf("can't parse the probe timeout as a duration: %v", err)
		}
		s.ProbeTimeout = d
	}

	a, err := authFromSettings(r.Config)
	if err != nil {
		return err
	}
	s.Auth = a
	return nil
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *StoreConfig) CheckAndSetDefaults() (StoreConfig, error) {
	c := *s

	switch c.Backend {
	case "":
		c.Backend = BackendHBase
	case BackendHBase, BackendLocal, BackendNoop:
	default:
		return StoreConfig{}, fmt.Errorf("unknown store backend %q", c.Backend)
	}

	if c.Backend == BackendHBase && c.Quorum == "" {
		return StoreConfig{}, errors.New(
			"user-provided config does not include a ZooKeeper quorum",
		)
	}
	if c.ZnodeParent == "" {
		c.ZnodeParent = defaultZnodeParent
	}

	if c.BatchPutLimit < 0 {
		return StoreConfig{}, errors.New("the batch put limit can't be negative")
	}
	if c.BatchPutLimit == 0 {
		c.BatchPutLimit = DefaultBatchPutLimit
	}

	if c.ProbeTimeout < 0 {
		return StoreConfig{}, errors.New("the probe timeout can't be negative")
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}

	if c.Auth == nil {
		c.Auth = NoAuth{}
	}
	if c.Auth.RequiresRenewal() && c.Backend == BackendLocal {
		return StoreConfig{}, errors.New("Kerberos authentication only applies to the hbase backend")
	}

	return c, nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{Local: m.Local}

	s, err := m.Store.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Store = s

	if s.Backend == BackendLocal && c.Local.StorageDirPath == "" && !c.Local.InMemory {
		return Meta{}, errors.New(
			"the local backend needs a \"local\" section with a storageDir",
		)
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

	if m.Store.Backend == "" && m.Store.Quorum == "" && m.Store.Settings == nil {
		return &Meta{}, errors.New("must include a \"store\" section")
	}

	if m.Store.Backend == BackendNoop {
		log.Debug().Msg(
			"disabling store operations",
		)
	}

	return &m, nil
}
