// Package warren provides zero-copy interprocess communication over shared
// memory: named services that connect publishers to subscribers, notifiers to
// listeners, clients to servers, and blackboard writers to readers.
//
// # Overview
//
// Processes meet at services. A service is a name plus a messaging pattern;
// whichever process resolves it first creates the backing shared memory
// segment, everyone after that opens it, and the last one out removes it.
// There is no broker and no central daemon - the segment itself carries the
// reference counts, port registrations and message buffers, and every
// operation on it is lock-free.
//
// # Messaging Patterns
//
// Publish-subscribe streams typed samples from publishers to subscribers
// through per-subscriber buffers, with optional history replay for late
// joiners and a choice between overflowing and failing when a buffer is full.
//
// Event delivers wake-up notifications. Notifiers fire event ids; listeners
// collect the set of ids fired since they last woke, sleeping on a futex in
// between. Ids coalesce: firing the same id twice before the listener wakes
// reports it once.
//
// Request-response pairs a client request with a stream of responses from
// every server that held the request. The request tracks how many servers it
// reached and whether any of them still works on it.
//
// Blackboard shares a fixed set of key-value entries between one writer per
// key and many readers. Readers see atomic snapshots; a generation counter
// tells them whether a value changed since they last looked.
//
// # Service Resolution
//
// Every factory comes out of a builder bound to a Node. Create fails when the
// service exists, Open fails when it does not, and OpenOrCreate converges
// when several processes race. On open, the builder's settings turn into
// requirements: asking for a buffer of 10 fails against a service that only
// supports 5, and payload types must match exactly.
//
// # Usage Example
//
//	import "github.com/dyluth/warren/pkg/warren"
//
//	node, err := warren.NewNode(warren.NodeConfig{Name: "sensor"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	type Sample struct {
//		Celsius float64
//		Seq     uint64
//	}
//
//	svc, err := warren.NewPublishSubscribeBuilder[Sample](node, "room/temperature").
//		SubscriberBufferSize(16).
//		OpenOrCreate()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//
//	pub, err := svc.Publisher().Create()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pub.Close()
//
//	_, err = pub.SendCopy(Sample{Celsius: 21.5, Seq: 1})
//
// # On-Disk Layout
//
// Each service owns two files under the configured root path (default
// /tmp/warren):
//
// Descriptor: {root}/services/warren_{service-id}.service
// Segment: {root}/shm/warren_{service-id}.store
//
// The descriptor is the YAML static config; its atomic rename into place is
// the moment a service becomes visible. The segment holds the live state and
// is created exclusively, which arbitrates racing creators. With the stock
// root path, segments prefer memory-backed /dev/shm when it exists; a custom
// root keeps them under the root so separate roots never collide. The
// service id is derived from the name and pattern, so every process computes
// the same paths without coordination.
//
// # Design Principles
//
// - Zero-copy: loaned payload buffers live in the segment itself
// - Lock-free: ports never block each other; waits use futexes, not mutexes
// - Self-cleaning: distributed reference counts remove files with the last user
// - Typed: payload and key types are checked across process boundaries
// - Decentralized: no daemon, no broker, no registry process
package warren
