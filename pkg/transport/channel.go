// Package transport applies bitmap requests arriving from worker processes
// to the registry. How requests and descriptors cross the process boundary
// is up to the caller; this package starts at the decoded Request.
package transport

import (
	"errors"
	"fmt"
	"sync"

	queuepkg "github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/shared-bitmap/pkg/bitmap"
	"github.com/srediag/shared-bitmap/pkg/shm"
)

// ErrChannelClosed is returned by Send after the channel was detached.
var ErrChannelClosed = errors.New("transport: channel closed")

// RequestKind is the kind of a worker request.
type RequestKind uint8

const (
	// KindAllocated is "I allocated <id, size, handle>".
	KindAllocated RequestKind = iota + 1
	// KindAllocate is "allocate me one of <size>". It is the only request
	// answered with a Reply.
	KindAllocate
	// KindDeleted is "I'm done with <id>".
	KindDeleted
)

func (k RequestKind) String() string {
	switch k {
	case KindAllocated:
		return "allocated"
	case KindAllocate:
		return "allocate"
	case KindDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// Request is one decoded worker message.
type Request struct {
	Kind RequestKind
	// Seq is echoed in the Reply to a KindAllocate request.
	Seq  uint32
	ID   bitmap.ID
	Size int
	// Descriptor accompanies KindAllocated. The dispatcher owns it once the
	// request is sent.
	Descriptor shm.Descriptor
}

// Reply answers a KindAllocate request.
type Reply struct {
	Seq        uint32
	ID         bitmap.ID
	Descriptor shm.Descriptor
	Err        error
}

// Channel is the host end of one worker's ordered request stream.
type Channel struct {
	owner   bitmap.ProcessID
	inbox   *queuepkg.Queue
	replies chan Reply

	closeOnce sync.Once
	done      chan struct{}
	// served is closed once the channel is drained and its owner's bitmaps
	// are removed.
	served chan struct{}
}

func newChannel(owner bitmap.ProcessID, inboxHint int64, replyBuffer int) *Channel {
	return &Channel{
		owner:   owner,
		inbox:   queuepkg.New(inboxHint),
		replies: make(chan Reply, replyBuffer),
		done:    make(chan struct{}),
		served:  make(chan struct{}),
	}
}

// Owner returns the worker process this channel belongs to.
func (c *Channel) Owner() bitmap.ProcessID { return c.owner }

// Send queues req. Requests are applied in the order they were sent.
func (c *Channel) Send(req Request) error {
	if err := c.inbox.Put(req); err != nil {
		if errors.Is(err, queuepkg.ErrDisposed) {
			return ErrChannelClosed
		}
		return err
	}
	return nil
}

// Replies delivers answers to KindAllocate requests. It is closed once the
// channel is detached and drained.
func (c *Channel) Replies() <-chan Reply { return c.replies }

// next blocks for the next request. It fails once the channel is closed.
func (c *Channel) next() (Request, error) {
	items, err := c.inbox.Get(1)
	if err != nil {
		return Request{}, err
	}
	if len(items) == 0 {
		return Request{}, queuepkg.ErrEmptyQueue
	}
	req, ok := items[0].(Request)
	if !ok {
		return Request{}, fmt.Errorf("invalid queue element type %T", items[0])
	}
	return req, nil
}

// deliver hands r to the worker unless the channel closes first.
func (c *Channel) deliver(r Reply) bool {
	select {
	case c.replies <- r:
		return true
	case <-c.done:
		return false
	}
}

// close stops the channel and returns the requests never applied.
func (c *Channel) close() []Request {
	var pending []Request
	c.closeOnce.Do(func() {
		close(c.done)
		for _, item := range c.inbox.Dispose() {
			if req, ok := item.(Request); ok {
				pending = append(pending, req)
			}
		}
	})
	return pending
}
