package warren

import "errors"

// Resolution errors returned by Create/Open/OpenOrCreate.
var (
	// ErrAlreadyExists is returned by Create while a referenced service with
	// the same name and pattern exists anywhere on the host.
	ErrAlreadyExists = errors.New("service already exists")

	// ErrDoesNotExist is returned by Open when no live service matches.
	ErrDoesNotExist = errors.New("service does not exist")

	// ErrNoEntriesProvided is returned by blackboard Create when the schema
	// is empty.
	ErrNoEntriesProvided = errors.New("no blackboard entries provided")

	// ErrServiceInCorruptedState marks a service whose creation failed half
	// way (duplicate schema keys, torn descriptor). The name stays poisoned
	// until the leftovers are purged.
	ErrServiceInCorruptedState = errors.New("service is in a corrupted state")

	// Type descriptor mismatches between the stored service and the opener.
	ErrIncompatibleRequestType  = errors.New("incompatible request type")
	ErrIncompatibleResponseType = errors.New("incompatible response type")
	ErrIncompatibleKeyType      = errors.New("incompatible key type")
	ErrIncompatiblePayloadType  = errors.New("incompatible payload type")

	// ErrIncompatibleAttributes is returned when an opener's attribute
	// requirements are not satisfied by the service's attribute set.
	ErrIncompatibleAttributes = errors.New("incompatible attributes")

	// ErrIncompatibleMessagingPattern is returned when a descriptor's
	// stored pattern disagrees with the requested identity.
	ErrIncompatibleMessagingPattern = errors.New("incompatible messaging pattern")
)

// Capacity requirement errors: the service was created with a smaller
// capacity than the opener requires.
var (
	ErrDoesNotSupportRequestedAmountOfReaders     = errors.New("service does not support requested amount of readers")
	ErrDoesNotSupportRequestedAmountOfWriters     = errors.New("service does not support requested amount of writers")
	ErrDoesNotSupportRequestedAmountOfClients     = errors.New("service does not support requested amount of clients")
	ErrDoesNotSupportRequestedAmountOfServers     = errors.New("service does not support requested amount of servers")
	ErrDoesNotSupportRequestedAmountOfPublishers  = errors.New("service does not support requested amount of publishers")
	ErrDoesNotSupportRequestedAmountOfSubscribers = errors.New("service does not support requested amount of subscribers")
	ErrDoesNotSupportRequestedAmountOfNotifiers   = errors.New("service does not support requested amount of notifiers")
	ErrDoesNotSupportRequestedAmountOfListeners   = errors.New("service does not support requested amount of listeners")
	ErrDoesNotSupportRequestedAmountOfNodes       = errors.New("service does not support requested amount of nodes")

	ErrDoesNotSupportRequestedMinBufferSize  = errors.New("service does not support requested minimum buffer size")
	ErrDoesNotSupportRequestedMinHistorySize = errors.New("service does not support requested minimum history size")
	ErrDoesNotSupportRequestedMaxSliceLen    = errors.New("service does not support requested maximum slice length")

	ErrDoesNotSupportRequestedAmountOfActiveRequests = errors.New("service does not support requested amount of active requests per client")
	ErrDoesNotSupportFireAndForget                   = errors.New("service does not support fire-and-forget requests")
)

// Port capacity errors: the role's dynamic-config slots are all taken.
var (
	ErrExceedsMaxSupportedReaders     = errors.New("exceeds maximum supported readers")
	ErrExceedsMaxSupportedWriters     = errors.New("exceeds maximum supported writers")
	ErrExceedsMaxSupportedClients     = errors.New("exceeds maximum supported clients")
	ErrExceedsMaxSupportedServers     = errors.New("exceeds maximum supported servers")
	ErrExceedsMaxSupportedPublishers  = errors.New("exceeds maximum supported publishers")
	ErrExceedsMaxSupportedSubscribers = errors.New("exceeds maximum supported subscribers")
	ErrExceedsMaxSupportedNotifiers   = errors.New("exceeds maximum supported notifiers")
	ErrExceedsMaxSupportedListeners   = errors.New("exceeds maximum supported listeners")

	// ErrExceedsMaxNumberOfNodes is returned when every node attachment
	// slot of the service is taken.
	ErrExceedsMaxNumberOfNodes = errors.New("exceeds maximum number of nodes")
)

// Blackboard handle errors.
var (
	// ErrEntryDoesNotExist is returned when a key is absent from the schema
	// or the requested value type does not match the stored one.
	ErrEntryDoesNotExist = errors.New("blackboard entry does not exist")

	// ErrHandleAlreadyExists is returned when a mutating handle for the key
	// is already outstanding.
	ErrHandleAlreadyExists = errors.New("mutating entry handle already exists")
)

// Delivery errors.
var (
	// ErrNoConnectedServers is returned by request sends when no server is
	// attached and fire-and-forget is disabled.
	ErrNoConnectedServers = errors.New("no connected servers")

	// ErrConnectionBroken is returned when responding to a request whose
	// pending response has been destroyed.
	ErrConnectionBroken = errors.New("connection broken")

	// ErrResponseBufferFull is returned when a request's response ring has
	// no free slot.
	ErrResponseBufferFull = errors.New("response buffer full")

	// ErrExceedsMaxLoans is returned when a client or active request is
	// already at its loan limit.
	ErrExceedsMaxLoans = errors.New("exceeds maximum loans")

	// ErrExceedsMaxLoanSize is returned when a slice loan asks for more
	// elements than the service was sized for.
	ErrExceedsMaxLoanSize = errors.New("exceeds maximum loan size")

	// ErrEventIDOutOfBounds is returned when notifying with an id above the
	// service's configured maximum.
	ErrEventIDOutOfBounds = errors.New("event id out of bounds")

	// ErrBufferFull is returned by publishers when a subscriber's buffer is
	// full and safe overflow is disabled.
	ErrBufferFull = errors.New("subscriber buffer full")
)

// Infrastructure errors.
var (
	ErrInvalidServiceName = errors.New("invalid service name")
	ErrInvalidNodeName    = errors.New("invalid node name")
	ErrInvalidTypeDetail  = errors.New("invalid type detail")
	ErrSegmentCorrupted   = errors.New("segment corrupted")

	// ErrPortClosed is returned when operating on a closed port or node.
	ErrPortClosed = errors.New("port is closed")
)

// IsNotFound reports whether err is the missing-service error. Mirrors the
// check callers reach for most.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDoesNotExist)
}
