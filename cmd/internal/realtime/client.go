package realtime

import "sync"

type outbound struct {
	env Envelope
	// closeAfter ends the connection once env is written.
	closeAfter bool
}

// Client is one connected event feed.
//
// send is never closed by the server so concurrent publishers cannot panic;
// done signals the connection goroutines to stop. Close is idempotent.
type Client struct {
	ID          string
	PrincipalID string

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, principalID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:          id,
		PrincipalID: principalID,
		send:        make(chan outbound, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer queues m without blocking. It reports false when the client is
// shutting down or its queue is full.
func (c *Client) offer(m outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}
