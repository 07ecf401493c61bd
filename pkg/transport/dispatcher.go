package transport

import (
	"errors"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/srediag/shared-bitmap/api"
	"github.com/srediag/shared-bitmap/internal/logging"
	"github.com/srediag/shared-bitmap/pkg/bitmap"
	"github.com/srediag/shared-bitmap/pkg/shm"
)

var transportLogger = logging.New("transport", nil)

// ErrAlreadyAttached is returned by Attach for a worker that has a channel.
var ErrAlreadyAttached = errors.New("transport: worker already attached")

// Config is used to tune the dispatcher.
type Config struct {
	// PoolSize bounds how many worker channels are served at once.
	PoolSize int
	// InboxHint sizes each channel's request queue.
	InboxHint int64
	// ReplyBuffer is the capacity of each channel's reply stream.
	ReplyBuffer int
	// Allocator closes descriptors of requests and replies that never
	// reached their receiver.
	Allocator shm.Allocator
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() *Config {
	return &Config{
		PoolSize:    64,
		InboxHint:   64,
		ReplyBuffer: 16,
		Allocator:   shm.NewOSAllocator("shared-bitmap"),
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.PoolSize <= 0 {
		return errors.New("PoolSize must be positive")
	}
	if config.InboxHint <= 0 || config.ReplyBuffer < 0 {
		return errors.New("InboxHint must be positive and ReplyBuffer not negative")
	}
	if config.Allocator == nil {
		return errors.New("Allocator is nil")
	}
	return nil
}

// Dispatcher serves one Channel per attached worker on a goroutine pool.
// Each channel is served by a single task, so a worker's requests apply in
// order while different workers proceed concurrently.
type Dispatcher struct {
	reg      api.WorkerRegistry
	conf     *Config
	pool     *ants.Pool
	channels cmap.ConcurrentMap[bitmap.ProcessID, *Channel]
	wg       sync.WaitGroup
}

// NewDispatcher returns a dispatcher applying requests to reg. A nil conf
// means DefaultConfig().
func NewDispatcher(reg api.WorkerRegistry, conf *Config) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("transport: registry is nil")
	}
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(conf.PoolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			transportLogger.Errorf("worker channel task panicked: %v", p)
		}))
	if err != nil {
		return nil, fmt.Errorf("transport: creating pool: %w", err)
	}
	return &Dispatcher{
		reg:      reg,
		conf:     conf,
		pool:     pool,
		channels: cmap.NewStringer[bitmap.ProcessID, *Channel](),
	}, nil
}

// Attach opens the channel of worker owner and starts serving it.
func (d *Dispatcher) Attach(owner bitmap.ProcessID) (*Channel, error) {
	ch := newChannel(owner, d.conf.InboxHint, d.conf.ReplyBuffer)
	if !d.channels.SetIfAbsent(owner, ch) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, owner)
	}
	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.serve(ch)
	})
	if err != nil {
		d.wg.Done()
		d.channels.Remove(owner)
		ch.close()
		close(ch.replies)
		close(ch.served)
		return nil, fmt.Errorf("transport: serving %s: %w", owner, err)
	}
	transportLogger.Debugf("attached worker %s", owner)
	return ch, nil
}

// Detach closes the channel of worker owner. Requests not yet applied are
// dropped. It waits for the request in flight, if any, and returns once
// every bitmap owner held is removed. Until then owner cannot be attached
// again. It returns false if owner was not attached.
func (d *Dispatcher) Detach(owner bitmap.ProcessID) bool {
	ch, ok := d.channels.Get(owner)
	if !ok {
		return false
	}
	for _, req := range ch.close() {
		if req.Kind == KindAllocated {
			d.closeDescriptor(req.Descriptor)
		}
	}
	<-ch.served
	transportLogger.Debugf("detached worker %s", owner)
	return true
}

// Attached returns the number of attached workers.
func (d *Dispatcher) Attached() int {
	return d.channels.Count()
}

// Close detaches every worker, waits for their channels to drain and stops
// the pool.
func (d *Dispatcher) Close() {
	for _, owner := range d.channels.Keys() {
		d.Detach(owner)
	}
	d.wg.Wait()
	d.pool.Release()
}

func (d *Dispatcher) serve(ch *Channel) {
	defer func() {
		n := d.reg.RemoveByProcess(ch.owner)
		transportLogger.Debugf("channel of %s drained, released %d bitmaps", ch.owner, n)
		d.channels.RemoveCb(ch.owner, func(_ bitmap.ProcessID, cur *Channel, exists bool) bool {
			return exists && cur == ch
		})
		close(ch.replies)
		close(ch.served)
	}()
	for {
		req, err := ch.next()
		if err != nil {
			return
		}
		reply, ok := d.apply(ch.owner, req)
		if !ok {
			continue
		}
		if !ch.deliver(reply) {
			d.closeDescriptor(reply.Descriptor)
		}
	}
}

// apply runs req against the registry and returns the reply it needs, if any.
func (d *Dispatcher) apply(owner bitmap.ProcessID, req Request) (Reply, bool) {
	switch req.Kind {
	case KindAllocated:
		if err := d.reg.RegisterWorkerAllocation(req.ID, req.Size, owner, req.Descriptor); err != nil {
			transportLogger.Warnf("worker %s announced bitmap %s: %v", owner, req.ID, err)
		}
		return Reply{}, false
	case KindAllocate:
		id, desc, err := d.reg.AllocateForWorker(owner, req.Size)
		return Reply{Seq: req.Seq, ID: id, Descriptor: desc, Err: err}, true
	case KindDeleted:
		d.reg.RemoveByID(req.ID)
		return Reply{}, false
	default:
		transportLogger.Warnf("worker %s sent unknown request %s", owner, req.Kind)
		return Reply{}, false
	}
}

func (d *Dispatcher) closeDescriptor(desc shm.Descriptor) {
	if !desc.Valid() {
		return
	}
	if err := d.conf.Allocator.Close(desc); err != nil {
		transportLogger.Warnf("closing descriptor %d: %v", desc, err)
	}
}
