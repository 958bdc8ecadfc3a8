package warren

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/dyluth/warren/internal/layout"
)

// bbSchema is the process-local index over a blackboard's fixed schema:
// entry order gives the cell index, the key's raw bytes give the lookup key.
type bbSchema struct {
	keyType TypeDetail
	entries []BlackboardEntry
	index   map[string]int
}

func newBBSchema(bc *BlackboardConfig) *bbSchema {
	s := &bbSchema{
		keyType: bc.KeyType,
		entries: bc.Entries,
		index:   make(map[string]int, len(bc.Entries)),
	}
	for i, e := range bc.Entries {
		s.index[string(e.Key)] = i
	}
	return s
}

func (s *bbSchema) lookup(key []byte) (int, bool) {
	i, ok := s.index[string(key)]
	return i, ok
}

// BlackboardCreator builds a new blackboard service with key type K. The
// schema is fixed here: every key added before Create is a cell of the
// service forever, and no key can be added afterwards.
type BlackboardCreator[K comparable] struct {
	node       *Node
	name       string
	maxReaders uint32
	maxWriters uint32
	maxNodes   uint32
	attrs      *AttributeSpecifier
	keyType    TypeDetail
	entries    []BlackboardEntry
	err        error
}

// NewBlackboardCreator starts a creator for the named service.
func NewBlackboardCreator[K comparable](node *Node, serviceName string) *BlackboardCreator[K] {
	d := node.cfg.Defaults.Blackboard
	c := &BlackboardCreator[K]{
		node:       node,
		name:       serviceName,
		maxReaders: d.MaxReaders,
		maxWriters: d.MaxWriters,
		maxNodes:   d.MaxNodes,
	}
	c.keyType, c.err = keyTypeDetail[K]()
	return c
}

// keyTypeDetail derives K's descriptor. Keys are compared by their raw
// bytes, so K must additionally be free of padding.
func keyTypeDetail[K comparable]() (TypeDetail, error) {
	d, err := TypeDetailOf[K]()
	if err != nil {
		return TypeDetail{}, err
	}
	if err := checkPaddingFree(reflect.TypeFor[K](), d.TypeName); err != nil {
		return TypeDetail{}, err
	}
	return d, nil
}

// MaxReaders sets how many reader ports the service supports. Zero is
// treated as one.
func (c *BlackboardCreator[K]) MaxReaders(n uint32) *BlackboardCreator[K] {
	c.maxReaders = normalizeCap(n)
	return c
}

// MaxWriters sets how many writer ports the service supports. Zero is
// treated as one.
func (c *BlackboardCreator[K]) MaxWriters(n uint32) *BlackboardCreator[K] {
	c.maxWriters = normalizeCap(n)
	return c
}

// MaxNodes sets how many nodes may attach at once. Zero is treated as one.
func (c *BlackboardCreator[K]) MaxNodes(n uint32) *BlackboardCreator[K] {
	c.maxNodes = normalizeCap(n)
	return c
}

// Attributes sets the attributes stamped onto the service at creation.
func (c *BlackboardCreator[K]) Attributes(spec *AttributeSpecifier) *BlackboardCreator[K] {
	c.attrs = spec
	return c
}

// AddEntry adds one schema cell with an initial value.
func AddEntry[V any, K comparable](c *BlackboardCreator[K], key K, initial V) *BlackboardCreator[K] {
	vd, err := TypeDetailOf[V]()
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return c
	}
	k := key
	v := initial
	c.entries = append(c.entries, BlackboardEntry{
		Key:       append([]byte(nil), bytesOf(&k)...),
		ValueType: vd,
		Initial:   append([]byte(nil), bytesOf(&v)...),
	})
	return c
}

// AddEntryWithDefault adds one schema cell initialized to V's zero value.
func AddEntryWithDefault[V any, K comparable](c *BlackboardCreator[K], key K) *BlackboardCreator[K] {
	var zero V
	return AddEntry(c, key, zero)
}

// Create publishes the service. An empty schema fails with
// ErrNoEntriesProvided; a duplicate key poisons the name with
// ErrServiceInCorruptedState until it is purged.
func (c *BlackboardCreator[K]) Create() (*BlackboardFactory[K], error) {
	if c.err != nil {
		return nil, c.err
	}
	if err := c.node.guard(); err != nil {
		return nil, err
	}
	if err := validateServiceName(c.name); err != nil {
		return nil, err
	}
	if len(c.entries) == 0 {
		return nil, fmt.Errorf("%w: blackboard %q needs at least one entry", ErrNoEntriesProvided, c.name)
	}

	sc := &StaticConfig{
		ServiceID: serviceIDFor(c.name, MessagingPatternBlackboard),
		Name:      c.name,
		Pattern:   MessagingPatternBlackboard,
		CreatedAt: time.Now().UTC(),
		MaxNodes:  normalizeCap(c.maxNodes),
		Blackboard: &BlackboardConfig{
			MaxReaders: normalizeCap(c.maxReaders),
			MaxWriters: normalizeCap(c.maxWriters),
			KeyType:    c.keyType,
			Entries:    c.entries,
		},
	}
	if c.attrs != nil {
		sc.Attributes = c.attrs.Attributes()
	}

	if dup := duplicateKey(c.entries); dup != nil {
		return nil, poisonService(c.node.st, sc, fmt.Sprintf("duplicate key in schema of %q", c.name))
	}

	var nodeSlot uint32
	svc, err := createService(c.node.st, c.node.cfg, sc, func(s *service) {
		for i, e := range c.entries {
			s.bb.InitValue(i, e.Initial)
		}
		nodeSlot, _ = s.dyn.ClaimNode([16]byte(c.node.id))
	})
	if err != nil {
		return nil, err
	}
	return &BlackboardFactory[K]{svc: svc, nodeID: [16]byte(c.node.id), nodeSlot: nodeSlot}, nil
}

// OpenOrCreate opens the service when it exists and creates it otherwise.
// Losing a creation race degrades into an open, so concurrent callers all
// end up attached to the same service.
func (c *BlackboardCreator[K]) OpenOrCreate() (*BlackboardFactory[K], error) {
	if c.err != nil {
		return nil, c.err
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := openBlackboard[K](c.node, c.name, 0, 0, 0, nil)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrDoesNotExist) {
			return nil, err
		}
		f, err = c.Create()
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q kept appearing and disappearing during open-or-create", ErrDoesNotExist, c.name)
}

// duplicateKey returns the first key that appears twice, or nil.
func duplicateKey(entries []BlackboardEntry) []byte {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[string(e.Key)]; ok {
			return e.Key
		}
		seen[string(e.Key)] = struct{}{}
	}
	return nil
}

// poisonService publishes a corrupted descriptor so the name stays unusable
// until purged. When a descriptor already exists the existing state wins.
func poisonService(st *storage, sc *StaticConfig, reason string) error {
	if prev, err := st.readDescriptor(sc.ServiceID); err == nil {
		if prev.Corrupted {
			return fmt.Errorf("%w: %s", ErrServiceInCorruptedState, reason)
		}
		return fmt.Errorf("%w: %q", ErrAlreadyExists, sc.Name)
	}
	poisoned := *sc
	poisoned.Corrupted = true
	if err := st.writeDescriptor(&poisoned); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrServiceInCorruptedState, reason)
}

// BlackboardOpener attaches to an existing blackboard service with key type
// K. The configured amounts are requirements: opening fails when the service
// was created smaller than required.
type BlackboardOpener[K comparable] struct {
	node       *Node
	name       string
	minReaders uint32
	minWriters uint32
	minNodes   uint32
	verifier   *AttributeVerifier
	keyTypeErr error
}

// NewBlackboardOpener starts an opener for the named service.
func NewBlackboardOpener[K comparable](node *Node, serviceName string) *BlackboardOpener[K] {
	o := &BlackboardOpener[K]{node: node, name: serviceName}
	_, o.keyTypeErr = keyTypeDetail[K]()
	return o
}

// RequiredReaders demands the service supports at least n readers.
func (o *BlackboardOpener[K]) RequiredReaders(n uint32) *BlackboardOpener[K] {
	o.minReaders = n
	return o
}

// RequiredWriters demands the service supports at least n writers.
func (o *BlackboardOpener[K]) RequiredWriters(n uint32) *BlackboardOpener[K] {
	o.minWriters = n
	return o
}

// RequiredNodes demands the service supports at least n attached nodes.
func (o *BlackboardOpener[K]) RequiredNodes(n uint32) *BlackboardOpener[K] {
	o.minNodes = n
	return o
}

// RequiredAttributes sets attribute requirements checked against the
// service's attribute set.
func (o *BlackboardOpener[K]) RequiredAttributes(v *AttributeVerifier) *BlackboardOpener[K] {
	o.verifier = v
	return o
}

// Open attaches to the service.
func (o *BlackboardOpener[K]) Open() (*BlackboardFactory[K], error) {
	if o.keyTypeErr != nil {
		return nil, o.keyTypeErr
	}
	return openBlackboard[K](o.node, o.name, o.minReaders, o.minWriters, o.minNodes, o.verifier)
}

func openBlackboard[K comparable](node *Node, name string, minReaders, minWriters, minNodes uint32, verifier *AttributeVerifier) (*BlackboardFactory[K], error) {
	if err := node.guard(); err != nil {
		return nil, err
	}
	if err := validateServiceName(name); err != nil {
		return nil, err
	}
	kd, err := keyTypeDetail[K]()
	if err != nil {
		return nil, err
	}
	svc, err := openService(node.st, node.cfg, name, MessagingPatternBlackboard, func(sc *StaticConfig) error {
		bc := sc.Blackboard
		if !bc.KeyType.Matches(kd) {
			return fmt.Errorf("%w: service has %s, caller wants %s", ErrIncompatibleKeyType, bc.KeyType, kd)
		}
		if err := verifier.Verify(sc.Attributes); err != nil {
			return err
		}
		if bc.MaxReaders < minReaders {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfReaders, bc.MaxReaders, minReaders)
		}
		if bc.MaxWriters < minWriters {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfWriters, bc.MaxWriters, minWriters)
		}
		if sc.MaxNodes < minNodes {
			return fmt.Errorf("%w: service supports %d, caller requires %d", ErrDoesNotSupportRequestedAmountOfNodes, sc.MaxNodes, minNodes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	nodeSlot, ok := svc.dyn.ClaimNode([16]byte(node.id))
	if !ok {
		// Read the capacity before unref: dropping the last local reference
		// unmaps the segment the dynamic config lives in.
		maxNodes := svc.dyn.MaxNodes()
		svc.unref()
		return nil, fmt.Errorf("%w: all %d node slots of %q are taken", ErrExceedsMaxNumberOfNodes, maxNodes, name)
	}
	return &BlackboardFactory[K]{svc: svc, nodeID: [16]byte(node.id), nodeSlot: nodeSlot}, nil
}

// BlackboardFactory is the handle to an attached blackboard service. Reader
// and writer ports are built through it; closing it releases the factory's
// reference while ports and entry handles keep their own.
type BlackboardFactory[K comparable] struct {
	svc      *service
	nodeID   [16]byte
	nodeSlot uint32
	closer   portCloser
}

// Name returns the service name.
func (f *BlackboardFactory[K]) Name() string { return f.svc.static.Name }

// ID returns the content-derived service id.
func (f *BlackboardFactory[K]) ID() string { return f.svc.static.ServiceID }

// Attributes returns the attribute set stamped at creation.
func (f *BlackboardFactory[K]) Attributes() AttributeSet { return f.svc.static.Attributes }

// StaticConfig returns the service's immutable descriptor. Callers must not
// modify it.
func (f *BlackboardFactory[K]) StaticConfig() *StaticConfig { return f.svc.static }

// NumberOfReaders returns the count of currently attached reader ports.
func (f *BlackboardFactory[K]) NumberOfReaders() int {
	return int(f.svc.dyn.PortCount(layout.RoleReader))
}

// NumberOfWriters returns the count of currently attached writer ports.
func (f *BlackboardFactory[K]) NumberOfWriters() int {
	return int(f.svc.dyn.PortCount(layout.RoleWriter))
}

// NumberOfNodes returns the count of currently attached nodes.
func (f *BlackboardFactory[K]) NumberOfNodes() int {
	return int(f.svc.dyn.NodeCount())
}

// ListReaders visits every attached reader port. Return false to stop.
func (f *BlackboardFactory[K]) ListReaders(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RoleReader, fn)
}

// ListWriters visits every attached writer port. Return false to stop.
func (f *BlackboardFactory[K]) ListWriters(fn func(PortDetails) bool) {
	f.svc.listPorts(layout.RoleWriter, fn)
}

// Reader starts a reader port builder.
func (f *BlackboardFactory[K]) Reader() *ReaderBuilder[K] {
	return &ReaderBuilder[K]{f: f}
}

// Writer starts a writer port builder.
func (f *BlackboardFactory[K]) Writer() *WriterBuilder[K] {
	return &WriterBuilder[K]{f: f}
}

// Close releases the factory's reference. Ports and handles built through
// it stay valid.
func (f *BlackboardFactory[K]) Close() error {
	return f.closer.close(func() error {
		f.svc.dyn.ReleaseNode(f.nodeSlot)
		return f.svc.unref()
	})
}
