package warren

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"
	"unsafe"

	"github.com/google/uuid"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/layout"
	"github.com/dyluth/warren/internal/shm"
)

// serviceNamespace seeds the content-derived service ids. Fixed forever;
// changing it would cut running systems off from their own services.
var serviceNamespace = uuid.MustParse("8a8f33dc-4fd1-4a94-9a22-c2b925b061c6")

const maxServiceNameLen = 255

// validateServiceName accepts any printable UTF-8 name up to 255 bytes.
// Names never touch the filesystem directly, so separators are fine.
func validateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidServiceName)
	}
	if len(name) > maxServiceNameLen {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidServiceName, maxServiceNameLen)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidServiceName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidServiceName)
		}
	}
	return nil
}

// serviceIDFor derives the stable id of a (name, pattern) pair. Every
// process computes the same id from the same inputs, which is what lets
// resolution work without any registry.
func serviceIDFor(name string, pattern MessagingPattern) string {
	return uuid.NewSHA1(serviceNamespace, []byte(string(pattern)+"/"+name)).String()
}

func serviceIDBytes(id string) [16]byte {
	u, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return [16]byte(u)
}

func newPortID() [16]byte {
	return [16]byte(uuid.New())
}

func portIDString(id [16]byte) string {
	return uuid.UUID(id).String()
}

// segLayout is the computed placement of the regions inside a segment. Both
// the creator and every opener derive it from the descriptor alone, so all
// attached processes agree on every offset.
type segLayout struct {
	dynParams layout.DynParams
	bbParams  layout.BlackboardParams
	evParams  layout.EventParams
	psParams  layout.PubSubParams
	rrParams  layout.RRParams
	dynOff    uint64
	patOff    uint64
	total     uint64
}

func layoutFor(sc *StaticConfig) (segLayout, error) {
	var l segLayout
	l.dynParams.MaxNodes = sc.MaxNodes

	var patSize uint64
	switch sc.Pattern {
	case MessagingPatternBlackboard:
		bc := sc.Blackboard
		if bc == nil {
			return l, fmt.Errorf("%w: descriptor has no blackboard section", ErrServiceInCorruptedState)
		}
		l.dynParams.RoleCaps[layout.RoleReader] = bc.MaxReaders
		l.dynParams.RoleCaps[layout.RoleWriter] = bc.MaxWriters
		for _, e := range bc.Entries {
			l.bbParams.ValueSizes = append(l.bbParams.ValueSizes, e.ValueType.Size)
		}
		patSize = layout.BlackboardSize(l.bbParams)
	case MessagingPatternEvent:
		ec := sc.Event
		if ec == nil {
			return l, fmt.Errorf("%w: descriptor has no event section", ErrServiceInCorruptedState)
		}
		l.dynParams.RoleCaps[layout.RoleNotifier] = ec.MaxNotifiers
		l.dynParams.RoleCaps[layout.RoleListener] = ec.MaxListeners
		l.evParams = layout.EventParams{
			MaxListeners: ec.MaxListeners,
			Words:        layout.EventWords(ec.EventIDMaxValue),
		}
		patSize = layout.EventSize(l.evParams)
	case MessagingPatternPublishSubscribe:
		pc := sc.PublishSubscribe
		if pc == nil {
			return l, fmt.Errorf("%w: descriptor has no publish_subscribe section", ErrServiceInCorruptedState)
		}
		l.dynParams.RoleCaps[layout.RolePublisher] = pc.MaxPublishers
		l.dynParams.RoleCaps[layout.RoleSubscriber] = pc.MaxSubscribers
		slot := pc.PayloadType.Size
		if pc.PayloadType.Variant == TypeVariantDynamic {
			slot *= uint64(pc.MaxSliceLen)
		}
		l.psParams = layout.PubSubParams{
			MaxPublishers:  pc.MaxPublishers,
			MaxSubscribers: pc.MaxSubscribers,
			BufferCap:      pc.SubscriberBufferSize,
			HistoryCap:     pc.HistorySize,
			SlotSize:       slot,
		}
		patSize = layout.PubSubSize(l.psParams)
	case MessagingPatternRequestResponse:
		rc := sc.RequestResponse
		if rc == nil {
			return l, fmt.Errorf("%w: descriptor has no request_response section", ErrServiceInCorruptedState)
		}
		l.dynParams.RoleCaps[layout.RoleClient] = rc.MaxClients
		l.dynParams.RoleCaps[layout.RoleServer] = rc.MaxServers
		conns := rc.MaxClients * rc.MaxActiveRequestsPerClient
		l.rrParams = layout.RRParams{
			MaxConnections: conns,
			MaxServers:     rc.MaxServers,
			InboxCap:       conns,
			ResponseCap:    rc.ResponseBufferSize,
			RequestSize:    rc.RequestType.Size,
			ResponseSize:   rc.ResponseType.Size,
		}
		patSize = layout.RRSize(l.rrParams)
	default:
		return l, fmt.Errorf("%w: descriptor carries unknown pattern %q", ErrServiceInCorruptedState, sc.Pattern)
	}

	l.dynOff = layout.HeaderSize
	l.patOff = l.dynOff + layout.DynSize(l.dynParams)
	l.total = l.patOff + patSize
	return l, nil
}

// service is the shared core behind factories, ports and loaned handles.
// Each of them holds one distributed reference in the segment header plus
// one local reference on this mapping; the mapping outlives whatever object
// created it until the last local user is done.
type service struct {
	static *StaticConfig
	st     *storage
	cfg    *config.Config

	seg *shm.Segment
	hdr *layout.SegmentHeader
	dyn *layout.DynConfig

	bb *layout.Blackboard
	ev *layout.Event
	ps *layout.PubSub
	rr *layout.RR

	schema *bbSchema

	localRefs atomic.Int32
}

func (s *service) mapRegions(l segLayout) {
	base := s.seg.Pointer()
	s.dyn = layout.MapDynConfig(unsafe.Add(base, l.dynOff))
	pat := unsafe.Add(base, l.patOff)
	switch s.static.Pattern {
	case MessagingPatternBlackboard:
		s.bb = layout.MapBlackboard(pat, l.bbParams)
		s.schema = newBBSchema(s.static.Blackboard)
	case MessagingPatternEvent:
		s.ev = layout.MapEvent(pat, l.evParams)
	case MessagingPatternPublishSubscribe:
		s.ps = layout.MapPubSub(pat, l.psParams)
	case MessagingPatternRequestResponse:
		s.rr = layout.MapRR(pat, l.rrParams)
	}
}

// ref takes one distributed and one local reference. Callers already hold a
// reference of their own, so this only fails after misuse of a closed handle.
func (s *service) ref() error {
	if !s.hdr.AcquireRef() {
		return fmt.Errorf("%w: service is being torn down", ErrPortClosed)
	}
	s.localRefs.Add(1)
	return nil
}

// unref drops one reference of each kind. The globally last holder removes
// the service's files; the locally last one unmaps the segment. The
// descriptor goes first so that no opener can find a service whose segment
// is already gone.
func (s *service) unref() error {
	var firstErr error
	if s.hdr.ReleaseRef() {
		if err := s.st.removeDescriptor(s.static.ServiceID); err != nil {
			firstErr = err
		}
		if err := s.seg.Unlink(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.localRefs.Add(-1) == 0 {
		if err := s.seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// createService builds a fresh service from a fully populated descriptor.
// The segment file's exclusive creation arbitrates racing creators; the
// descriptor rename at the end makes the service visible. init runs between
// the two, with the segment mapped and zeroed, to place initial values.
func createService(st *storage, cfg *config.Config, sc *StaticConfig, init func(s *service)) (*service, error) {
	l, err := layoutFor(sc)
	if err != nil {
		return nil, err
	}

	if prev, err := st.readDescriptor(sc.ServiceID); err == nil {
		if prev.Corrupted {
			return nil, fmt.Errorf("%w: a previous creation of %q died half way; purge it first", ErrServiceInCorruptedState, sc.Name)
		}
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, sc.Name)
	} else if !errors.Is(err, ErrDoesNotExist) {
		return nil, err
	}

	segName := st.segmentName(sc.ServiceID)
	seg, err := createSegment(st, segName, int(l.total), cfg.Global.Service.CreationTimeout())
	if err != nil {
		return nil, err
	}

	s := &service{static: sc, st: st, cfg: cfg, seg: seg}
	s.hdr = layout.InitHeader(seg.Pointer(), sc.Pattern.code(), serviceIDBytes(sc.ServiceID), l.total, l.dynOff, l.patOff)
	layout.InitDynConfig(unsafe.Add(seg.Pointer(), l.dynOff), l.dynParams)
	s.mapRegions(l)
	if init != nil {
		init(s)
	}
	s.localRefs.Store(1)

	if err := st.writeDescriptor(sc); err != nil {
		seg.Unlink()
		seg.Close()
		return nil, err
	}
	return s, nil
}

// createSegment creates the backing file, stepping over an abandoned half
// creation when its file has been sitting around longer than the creation
// timeout.
func createSegment(st *storage, segName string, size int, timeout time.Duration) (*shm.Segment, error) {
	for attempt := 0; ; attempt++ {
		seg, err := shm.Create(st.segDir, segName, size)
		if err == nil {
			return seg, nil
		}
		if !errors.Is(err, os.ErrExist) || attempt > 0 {
			return nil, fmt.Errorf("failed to create segment: %w", err)
		}
		mt, mtErr := shm.ModTime(st.segDir, segName)
		if mtErr != nil {
			// The competing file vanished between attempts; try again.
			continue
		}
		age := time.Since(time.Unix(0, mt))
		if age <= timeout {
			return nil, ErrAlreadyExists
		}
		// Stale leftover of a creator that died before publishing.
		if err := shm.Remove(st.segDir, segName); err != nil {
			return nil, err
		}
	}
}

// openService attaches to an existing service. check runs against the
// descriptor before any mapping happens, so openers can reject type or
// capacity mismatches cheaply.
func openService(st *storage, cfg *config.Config, name string, pattern MessagingPattern, check func(sc *StaticConfig) error) (*service, error) {
	s, retry, err := openServiceOnce(st, cfg, name, pattern, check)
	if retry {
		// The mapping failed validation: the service was torn down or
		// recreated between the descriptor read and the segment map. One
		// fresh read settles which.
		s, _, err = openServiceOnce(st, cfg, name, pattern, check)
	}
	return s, err
}

func openServiceOnce(st *storage, cfg *config.Config, name string, pattern MessagingPattern, check func(sc *StaticConfig) error) (*service, bool, error) {
	id := serviceIDFor(name, pattern)
	sc, err := st.readDescriptor(id)
	if err != nil {
		return nil, false, err
	}
	if sc.Corrupted {
		return nil, false, fmt.Errorf("%w: a previous creation of %q died half way; purge it first", ErrServiceInCorruptedState, name)
	}
	if sc.Name != name {
		return nil, false, fmt.Errorf("%w: descriptor for id %s names service %q, not %q", ErrServiceInCorruptedState, id, sc.Name, name)
	}
	if sc.Pattern != pattern {
		return nil, false, fmt.Errorf("%w: service %q is %s, not %s", ErrIncompatibleMessagingPattern, name, sc.Pattern, pattern)
	}
	if check != nil {
		if err := check(sc); err != nil {
			return nil, false, err
		}
	}

	l, err := layoutFor(sc)
	if err != nil {
		return nil, false, err
	}
	seg, err := shm.Open(st.segDir, st.segmentName(id))
	if err != nil {
		// Descriptor without a segment: the service was torn down between
		// the read and the open, or the segment was removed by hand.
		return nil, false, fmt.Errorf("%w: %q", ErrDoesNotExist, name)
	}
	if uint64(seg.Size()) < l.total {
		seg.Close()
		return nil, true, fmt.Errorf("%w: segment smaller than its descriptor claims", ErrSegmentCorrupted)
	}

	s := &service{static: sc, st: st, cfg: cfg, seg: seg}
	s.hdr = layout.MapHeader(seg.Pointer())
	if err := s.hdr.Validate(pattern.code(), serviceIDBytes(id), l.total); err != nil {
		seg.Close()
		return nil, true, fmt.Errorf("%w: %v", ErrSegmentCorrupted, err)
	}
	if !s.hdr.AcquireRef() {
		seg.Close()
		return nil, false, fmt.Errorf("%w: %q", ErrDoesNotExist, name)
	}
	s.mapRegions(l)
	s.localRefs.Store(1)
	return s, false, nil
}

// DoesExist reports whether a service with the given name and pattern is
// currently published. The check acquires no reference: a service that
// exists now may be gone by the time it is opened.
func DoesExist(node *Node, serviceName string, pattern MessagingPattern) (bool, error) {
	if err := node.guard(); err != nil {
		return false, err
	}
	if err := validateServiceName(serviceName); err != nil {
		return false, err
	}
	if err := pattern.Validate(); err != nil {
		return false, err
	}
	sc, err := node.st.readDescriptor(serviceIDFor(serviceName, pattern))
	if err != nil {
		if errors.Is(err, ErrDoesNotExist) {
			return false, nil
		}
		return false, err
	}
	if sc.Corrupted {
		return false, fmt.Errorf("%w: %q", ErrServiceInCorruptedState, serviceName)
	}
	return true, nil
}
