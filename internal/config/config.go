// Package config loads the optional warren.yml configuration file and
// supplies the defaults every capacity and path parameter falls back to.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRootPath is where warren keeps its files unless configured
// otherwise.
const DefaultRootPath = "/tmp/warren/"

// Config is the top-level warren.yml structure. Every field has a default;
// a missing file or a partial file is fine.
type Config struct {
	Global   Global   `yaml:"global"`
	Defaults Defaults `yaml:"defaults"`
}

// Global holds storage locations and naming.
type Global struct {
	RootPath string  `yaml:"root_path"` // everything lives under here; the default root places segments in /dev/shm
	Prefix   string  `yaml:"prefix"`    // file name prefix for everything warren creates
	Service  Service `yaml:"service"`
}

// Service holds per-service file naming and creation behavior.
type Service struct {
	Directory         string `yaml:"directory"`           // subdirectory of root_path for descriptors
	DescriptorSuffix  string `yaml:"descriptor_suffix"`   // static service descriptor files
	SegmentSuffix     string `yaml:"segment_suffix"`      // shared memory segment files
	CreationTimeoutMs int64  `yaml:"creation_timeout_ms"` // age after which a half-created service counts as abandoned
}

// CreationTimeout returns the timeout as a duration.
func (s Service) CreationTimeout() time.Duration {
	return time.Duration(s.CreationTimeoutMs) * time.Millisecond
}

// Defaults holds the per-pattern capacity defaults applied when a service
// builder does not override them.
type Defaults struct {
	PublishSubscribe PublishSubscribe `yaml:"publish_subscribe"`
	Event            Event            `yaml:"event"`
	RequestResponse  RequestResponse  `yaml:"request_response"`
	Blackboard       Blackboard       `yaml:"blackboard"`
}

// PublishSubscribe defaults.
type PublishSubscribe struct {
	MaxPublishers        uint32 `yaml:"max_publishers"`
	MaxSubscribers       uint32 `yaml:"max_subscribers"`
	MaxNodes             uint32 `yaml:"max_nodes"`
	SubscriberBufferSize uint32 `yaml:"subscriber_buffer_size"`
	HistorySize          uint32 `yaml:"history_size"`
	MaxSliceLen          uint32 `yaml:"max_slice_len"`
	EnableSafeOverflow   bool   `yaml:"enable_safe_overflow"`
}

// Event defaults.
type Event struct {
	MaxNotifiers    uint32 `yaml:"max_notifiers"`
	MaxListeners    uint32 `yaml:"max_listeners"`
	MaxNodes        uint32 `yaml:"max_nodes"`
	EventIDMaxValue uint64 `yaml:"event_id_max_value"`
	DeadlineMs      int64  `yaml:"deadline_ms"` // 0 means no deadline
}

// RequestResponse defaults.
type RequestResponse struct {
	MaxClients                 uint32 `yaml:"max_clients"`
	MaxServers                 uint32 `yaml:"max_servers"`
	MaxNodes                   uint32 `yaml:"max_nodes"`
	MaxActiveRequestsPerClient uint32 `yaml:"max_active_requests_per_client"`
	ResponseBufferSize         uint32 `yaml:"response_buffer_size"`
	MaxLoansPerRequest         uint32 `yaml:"max_loans_per_request"`
	EnableFireAndForget        bool   `yaml:"enable_fire_and_forget"`
}

// Blackboard defaults.
type Blackboard struct {
	MaxReaders uint32 `yaml:"max_readers"`
	MaxWriters uint32 `yaml:"max_writers"`
	MaxNodes   uint32 `yaml:"max_nodes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Global: Global{
			RootPath: DefaultRootPath,
			Prefix:   "warren_",
			Service: Service{
				Directory:         "services",
				DescriptorSuffix:  ".service",
				SegmentSuffix:     ".store",
				CreationTimeoutMs: 500,
			},
		},
		Defaults: Defaults{
			PublishSubscribe: PublishSubscribe{
				MaxPublishers:        2,
				MaxSubscribers:       8,
				MaxNodes:             20,
				SubscriberBufferSize: 2,
				HistorySize:          1,
				MaxSliceLen:          1,
				EnableSafeOverflow:   true,
			},
			Event: Event{
				MaxNotifiers:    16,
				MaxListeners:    16,
				MaxNodes:        36,
				EventIDMaxValue: 255,
			},
			RequestResponse: RequestResponse{
				MaxClients:                 8,
				MaxServers:                 2,
				MaxNodes:                   20,
				MaxActiveRequestsPerClient: 4,
				ResponseBufferSize:         2,
				MaxLoansPerRequest:         2,
			},
			Blackboard: Blackboard{
				MaxReaders: 8,
				MaxWriters: 1,
				MaxNodes:   20,
			},
		},
	}
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.Global.RootPath == "" {
		return fmt.Errorf("global.root_path cannot be empty")
	}
	if c.Global.Prefix == "" {
		return fmt.Errorf("global.prefix cannot be empty")
	}
	if strings.ContainsAny(c.Global.Prefix, "/\x00") {
		return fmt.Errorf("global.prefix %q must not contain path separators", c.Global.Prefix)
	}
	if c.Global.Service.Directory == "" {
		return fmt.Errorf("global.service.directory cannot be empty")
	}
	if c.Global.Service.DescriptorSuffix == c.Global.Service.SegmentSuffix {
		return fmt.Errorf("descriptor and segment suffixes must differ")
	}
	if c.Global.Service.CreationTimeoutMs <= 0 {
		return fmt.Errorf("global.service.creation_timeout_ms must be positive")
	}
	if c.Defaults.Event.EventIDMaxValue == 0 {
		return fmt.Errorf("defaults.event.event_id_max_value must be positive")
	}
	return nil
}

// Load reads warren.yml from path, layered over the defaults: fields absent
// from the file keep their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault behaves like Load but returns the defaults when no file
// exists at path.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
