// Package bus is the control core's in-process publish/subscribe layer.
// The supervisor publishes its Snapshot, per-loop status, and historian
// samples; any number of subscribers — a façade process, diagnostics, a
// test — can listen without the supervisor knowing who, or how many,
// are listening. Unlike a general message broker, the set of topics is
// fixed and typed: there is no generic []byte Publish/Subscribe pair,
// only the incubator-specific helpers below.
package bus

import (
	"sync"

	"incubator-core/types"
)

// Topic is a token path through the status trie.
type Topic []string

// wildcard matches exactly one token at its position in a subscription
// pattern. The only pattern that uses it is AllLoopStatusTopic, for a
// subscriber that wants every loop's status without naming each one.
const wildcard = "+"

var (
	// SnapshotTopic carries the supervisor's latest types.Snapshot,
	// retained so a subscriber that connects late still gets the
	// current state immediately.
	SnapshotTopic = Topic{"incubator", "snapshot"}

	// SampleTopic carries each types.Sample as the historian appends it.
	// Not retained: a late subscriber gets the next sample, not a stale one.
	SampleTopic = Topic{"incubator", "sample"}

	// AllLoopStatusTopic matches every per-loop status topic at once.
	AllLoopStatusTopic = Topic{"incubator", "loop", wildcard, "status"}
)

// LoopStatusTopic is the topic a single loop's status is published on.
func LoopStatusTopic(name types.LoopName) Topic {
	return Topic{"incubator", "loop", string(name), "status"}
}

// LoopStatusEvent pairs a published status with the loop it came from.
// types.LoopStatus carries no name of its own, so a subscriber listening
// on AllLoopStatusTopic needs this to tell the loops apart.
type LoopStatusEvent struct {
	Name   types.LoopName
	Status types.LoopStatus
}

// message is the internal envelope the trie stores and delivers.
// Publish/Subscribe callers never see this type; the typed helpers below
// wrap and unwrap it.
type message struct {
	topic   Topic
	payload any
}

type subscription struct {
	pattern Topic
	ch      chan message
	conn    *Connection
}

func (s *subscription) unsubscribe() { s.conn.unsubscribe(s) }

type node struct {
	children map[string]*node
	subs     []*subscription
	retained *message
}

func ensureChild(n *node, t string) *node {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	if n.children[t] == nil {
		n.children[t] = &node{}
	}
	return n.children[t]
}

// Bus is the trie-indexed broker every Connection publishes through and
// subscribes against.
type Bus struct {
	mu   sync.Mutex
	root *node
	qLen int
}

func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 3
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

func (b *Bus) publish(topic Topic, payload any, retained bool) {
	msg := message{topic: topic, payload: payload}

	b.mu.Lock()
	var subs []*subscription
	b.collectSubscribersLocked(b.root, topic, 0, &subs)
	if retained {
		b.retainSetLocked(topic, msg)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		tryDeliver(sub.ch, msg)
	}
}

// tryDeliver is a non-blocking send that, on a full queue, drops the
// oldest queued message to make room for the newest: subscribers see
// the current state, not a backlog of stale ones.
func tryDeliver(ch chan message, msg message) {
	defer func() { _ = recover() }() // ch may have been closed by a concurrent Unsubscribe
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

func (b *Bus) subscribe(conn *Connection, pattern Topic) *subscription {
	sub := &subscription{pattern: pattern, ch: make(chan message, b.qLen), conn: conn}

	b.mu.Lock()
	n := b.root
	for _, t := range pattern {
		n = ensureChild(n, t)
	}
	n.subs = append(n.subs, sub)

	var retained []message
	b.collectRetainedLocked(b.root, pattern, 0, &retained)
	b.mu.Unlock()

	for _, rm := range retained {
		tryDeliver(sub.ch, rm)
	}
	return sub
}

func (b *Bus) unsubscribe(pattern Topic, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range pattern {
		if n.children == nil {
			return
		}
		child := n.children[t]
		if child == nil {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	b.pruneEmptyLocked(stack, pattern)
}

func (b *Bus) pruneEmptyLocked(stack []*node, path Topic) {
	for i := len(path) - 1; i >= 0; i-- {
		parent := stack[i]
		key := path[i]
		child := parent.children[key]
		if child != nil && len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

func (b *Bus) collectSubscribersLocked(n *node, topic Topic, depth int, out *[]*subscription) {
	if n == nil {
		return
	}
	if depth == len(topic) {
		*out = append(*out, n.subs...)
		return
	}
	if n.children == nil {
		return
	}
	tok := topic[depth]
	if child := n.children[tok]; child != nil {
		b.collectSubscribersLocked(child, topic, depth+1, out)
	}
	if sw := n.children[wildcard]; sw != nil {
		b.collectSubscribersLocked(sw, topic, depth+1, out)
	}
}

func (b *Bus) retainSetLocked(topic Topic, msg message) {
	n := b.root
	for _, t := range topic {
		n = ensureChild(n, t)
	}
	n.retained = &msg
}

func (b *Bus) collectRetainedLocked(n *node, pattern Topic, depth int, out *[]message) {
	if n == nil {
		return
	}
	if depth == len(pattern) {
		if n.retained != nil {
			*out = append(*out, *n.retained)
		}
		return
	}
	ptok := pattern[depth]
	if ptok == wildcard {
		for _, child := range n.children {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
		return
	}
	if child := n.children[ptok]; child != nil {
		b.collectRetainedLocked(child, pattern, depth+1, out)
	}
}

// Connection is one publisher/subscriber identity against a Bus. The
// supervisor holds exactly one; a façade process or a test gets its own.
type Connection struct {
	bus  *Bus
	mu   sync.Mutex
	subs []*subscription
	id   string
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) track(sub *subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

func (c *Connection) unsubscribe(sub *subscription) {
	c.bus.unsubscribe(sub.pattern, sub)
	c.mu.Lock()
	c.subs = removeSub(c.subs, sub)
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect unsubscribes every subscription this connection holds.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub.pattern, sub)
		close(sub.ch)
	}
}

func removeSub(list []*subscription, target *subscription) []*subscription {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// PublishSnapshot publishes the supervisor's latest Snapshot, retained.
func (c *Connection) PublishSnapshot(snap types.Snapshot) {
	c.bus.publish(SnapshotTopic, snap, true)
}

// PublishSample publishes one historian sample as it's appended.
func (c *Connection) PublishSample(sample types.Sample) {
	c.bus.publish(SampleTopic, sample, false)
}

// PublishLoopStatus publishes one loop's status, retained, on its own
// per-loop topic.
func (c *Connection) PublishLoopStatus(name types.LoopName, status types.LoopStatus) {
	c.bus.publish(LoopStatusTopic(name), LoopStatusEvent{Name: name, Status: status}, true)
}

// Subscription delivers one topic's payload on a typed channel. Call
// Close to unsubscribe and stop delivery; C is closed once Close
// completes.
type Subscription[T any] struct {
	raw *subscription
	ch  chan T
}

func (s *Subscription[T]) C() <-chan T { return s.ch }
func (s *Subscription[T]) Close()      { s.raw.unsubscribe() }

func subscribeTyped[T any](c *Connection, pattern Topic, extract func(message) (T, bool)) *Subscription[T] {
	raw := c.bus.subscribe(c, pattern)
	c.track(raw)

	out := make(chan T, cap(raw.ch))
	go func() {
		defer close(out)
		for m := range raw.ch {
			if v, ok := extract(m); ok {
				out <- v
			}
		}
	}()
	return &Subscription[T]{raw: raw, ch: out}
}

// SubscribeSnapshot subscribes to every published Snapshot, including the
// currently retained one if there is one.
func (c *Connection) SubscribeSnapshot() *Subscription[types.Snapshot] {
	return subscribeTyped(c, SnapshotTopic, func(m message) (types.Snapshot, bool) {
		v, ok := m.payload.(types.Snapshot)
		return v, ok
	})
}

// SubscribeSample subscribes to every appended historian Sample.
func (c *Connection) SubscribeSample() *Subscription[types.Sample] {
	return subscribeTyped(c, SampleTopic, func(m message) (types.Sample, bool) {
		v, ok := m.payload.(types.Sample)
		return v, ok
	})
}

// SubscribeLoopStatus subscribes to one loop's status topic.
func (c *Connection) SubscribeLoopStatus(name types.LoopName) *Subscription[types.LoopStatus] {
	return subscribeTyped(c, LoopStatusTopic(name), func(m message) (types.LoopStatus, bool) {
		ev, ok := m.payload.(LoopStatusEvent)
		if !ok {
			return types.LoopStatus{}, false
		}
		return ev.Status, true
	})
}

// SubscribeAllLoopStatus subscribes to every loop's status topic at once,
// via the wildcard pattern.
func (c *Connection) SubscribeAllLoopStatus() *Subscription[LoopStatusEvent] {
	return subscribeTyped(c, AllLoopStatusTopic, func(m message) (LoopStatusEvent, bool) {
		ev, ok := m.payload.(LoopStatusEvent)
		return ev, ok
	})
}
