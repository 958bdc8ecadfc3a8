package warren

import "time"

// StaticConfig is the immutable description of a service, written once by
// the creator and stored as the YAML descriptor. Openers compare it against
// their own requirements; it never changes for the lifetime of the service.
type StaticConfig struct {
	ServiceID string           `yaml:"service_id"`
	Name      string           `yaml:"name"`
	Pattern   MessagingPattern `yaml:"messaging_pattern"`
	CreatedAt time.Time        `yaml:"created_at"`
	MaxNodes  uint32           `yaml:"max_nodes"`
	// Corrupted poisons the name: creation died half way and only a purge
	// clears it.
	Corrupted  bool         `yaml:"corrupted,omitempty"`
	Attributes AttributeSet `yaml:"attributes,omitempty"`

	Blackboard       *BlackboardConfig       `yaml:"blackboard,omitempty"`
	Event            *EventConfig            `yaml:"event,omitempty"`
	PublishSubscribe *PublishSubscribeConfig `yaml:"publish_subscribe,omitempty"`
	RequestResponse  *RequestResponseConfig  `yaml:"request_response,omitempty"`
}

// BlackboardConfig is the blackboard section of a descriptor. The schema is
// fixed at creation: every key, its value type and its initial bytes.
type BlackboardConfig struct {
	MaxReaders uint32            `yaml:"max_readers"`
	MaxWriters uint32            `yaml:"max_writers"`
	KeyType    TypeDetail        `yaml:"key_type"`
	Entries    []BlackboardEntry `yaml:"entries"`
}

// BlackboardEntry is one schema entry. Keys are stored by their raw
// representation, which is also how lookups compare them.
type BlackboardEntry struct {
	Key       []byte     `yaml:"key"`
	ValueType TypeDetail `yaml:"value_type"`
	Initial   []byte     `yaml:"initial,omitempty"`
}

// EventConfig is the event section of a descriptor.
type EventConfig struct {
	MaxNotifiers    uint32 `yaml:"max_notifiers"`
	MaxListeners    uint32 `yaml:"max_listeners"`
	EventIDMaxValue uint64 `yaml:"event_id_max_value"`
	DeadlineMs      int64  `yaml:"deadline_ms,omitempty"`
}

// PublishSubscribeConfig is the publish-subscribe section of a descriptor.
type PublishSubscribeConfig struct {
	MaxPublishers        uint32     `yaml:"max_publishers"`
	MaxSubscribers       uint32     `yaml:"max_subscribers"`
	SubscriberBufferSize uint32     `yaml:"subscriber_buffer_size"`
	HistorySize          uint32     `yaml:"history_size"`
	MaxSliceLen          uint32     `yaml:"max_slice_len"`
	EnableSafeOverflow   bool       `yaml:"enable_safe_overflow"`
	PayloadType          TypeDetail `yaml:"payload_type"`
}

// RequestResponseConfig is the request-response section of a descriptor.
type RequestResponseConfig struct {
	MaxClients                 uint32     `yaml:"max_clients"`
	MaxServers                 uint32     `yaml:"max_servers"`
	MaxActiveRequestsPerClient uint32     `yaml:"max_active_requests_per_client"`
	ResponseBufferSize         uint32     `yaml:"response_buffer_size"`
	MaxLoansPerRequest         uint32     `yaml:"max_loans_per_request"`
	EnableFireAndForget        bool       `yaml:"enable_fire_and_forget"`
	RequestType                TypeDetail `yaml:"request_type"`
	ResponseType               TypeDetail `yaml:"response_type"`
}
