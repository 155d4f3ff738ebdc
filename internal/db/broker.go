package db

import (
	"sync"
)

// broker fans change notifications out to subscriptions inside one process.
// A subscription owns one goroutine and a dirty flag: notifications that
// arrive while an emission is running collapse into a single re-read, so a
// slow listener always catches up to the latest state without blocking
// writers.
type broker struct {
	mu     sync.Mutex
	topics map[string]map[uint64]*subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	dirty chan struct{}
	stop  chan struct{}
	once  sync.Once
}

func newBroker() *broker {
	return &broker{topics: make(map[string]map[uint64]*subscription)}
}

func docTopic(collection, id string) string {
	return collection + "/" + id
}

func collectionTopic(collection string) string {
	return collection
}

// subscribe registers emit under topic and schedules an immediate first call.
func (b *broker) subscribe(topic string, emit func()) (Unsubscribe, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrStoreClosed
	}

	id := b.nextID
	b.nextID++

	sub := &subscription{
		dirty: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	sub.dirty <- struct{}{}

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]*subscription)
		b.topics[topic] = subs
	}
	subs[id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-sub.stop:
				return
			case <-sub.dirty:
				select {
				case <-sub.stop:
					return
				default:
				}
				emit()
			}
		}
	}()

	return func() {
		sub.once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.topics[topic]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
			b.mu.Unlock()
			close(sub.stop)
		})
	}, nil
}

func (b *broker) publish(topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range topics {
		for _, sub := range b.topics[topic] {
			select {
			case sub.dirty <- struct{}{}:
			default:
				// already pending
			}
		}
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, subs := range b.topics {
		n += len(subs)
	}
	return n
}

func (b *broker) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.stop) })
		}
		delete(b.topics, topic)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
