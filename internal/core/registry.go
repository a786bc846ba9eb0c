package core

import "sync"

// registryBuckets is the number of shards; a power of two so the modulo is
// cheap. Conversations hash into buckets so unrelated conversations never
// contend on the same lock.
const registryBuckets = 32

// Registry tracks, per conversation, the set of live subscribers. It is the
// single shared-mutable structure between connection goroutines and the
// broadcaster; all access goes through per-bucket locks and no lock is ever
// held across a network send.
type Registry struct {
	buckets [registryBuckets]registryBucket
}

type registryBucket struct {
	mu            sync.RWMutex
	conversations map[int64]map[*Subscriber]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.buckets {
		r.buckets[i].conversations = make(map[int64]map[*Subscriber]struct{})
	}
	return r
}

func (r *Registry) bucket(conversationID int64) *registryBucket {
	return &r.buckets[uint64(conversationID)%registryBuckets]
}

// Register adds a subscriber to its conversation's set. Idempotent.
func (r *Registry) Register(sub *Subscriber) {
	if sub == nil {
		return
	}

	b := r.bucket(sub.ConversationID)
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.conversations[sub.ConversationID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.conversations[sub.ConversationID] = set
	}
	set[sub] = struct{}{}
}

// Unregister removes a subscriber. No-op when absent; it is called from
// cleanup paths and must never fail. Empty sets are pruned so idle
// conversations do not leak memory.
func (r *Registry) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}

	b := r.bucket(sub.ConversationID)
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.conversations[sub.ConversationID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.conversations, sub.ConversationID)
	}
}

// Snapshot returns a point-in-time copy of the conversation's subscriber set.
// Delivery iterates the copy without holding the bucket lock, so a subscriber
// removed mid-iteration may still receive the in-flight message; delivery is
// best-effort, at most once per subscriber registered at send time.
func (r *Registry) Snapshot(conversationID int64) []*Subscriber {
	b := r.bucket(conversationID)
	b.mu.RLock()
	defer b.mu.RUnlock()

	set, ok := b.conversations[conversationID]
	if !ok {
		return nil
	}

	subs := make([]*Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	return subs
}

// Count returns the number of subscribers registered for a conversation.
func (r *Registry) Count(conversationID int64) int {
	b := r.bucket(conversationID)
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.conversations[conversationID])
}
