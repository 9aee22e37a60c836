package pipeline

import (
	"sync"

	"github.com/fatihtunali/whisper2-sub000/codec"
)

// maxBufferedPerSender caps how many envelopes an unknown sender can
// park before older ones are dropped.
const maxBufferedPerSender = 50

// requestBuffer holds verified-pending envelopes from senders that are
// not yet contacts. Nothing here has been decrypted; decryption happens
// only after the user accepts the sender.
type requestBuffer struct {
	mu       sync.Mutex
	bySender map[string][]*codec.Envelope
}

func newRequestBuffer() *requestBuffer {
	return &requestBuffer{bySender: make(map[string][]*codec.Envelope)}
}

// Add buffers an envelope and returns how many are now held for the
// sender.
func (b *requestBuffer) Add(env *codec.Envelope) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.bySender[env.From]
	if len(queue) >= maxBufferedPerSender {
		queue = queue[1:]
	}
	queue = append(queue, env)
	b.bySender[env.From] = queue
	return len(queue)
}

// Take removes and returns everything buffered for the sender, in
// arrival order.
func (b *requestBuffer) Take(accountID string) []*codec.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.bySender[accountID]
	delete(b.bySender, accountID)
	return queue
}

// Drop discards everything buffered for the sender.
func (b *requestBuffer) Drop(accountID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bySender, accountID)
}

// Senders lists account IDs with buffered envelopes.
func (b *requestBuffer) Senders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	senders := make([]string, 0, len(b.bySender))
	for id := range b.bySender {
		senders = append(senders, id)
	}
	return senders
}
