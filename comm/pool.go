package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	mu      sync.Mutex
	leases  chan struct{}           // one token per connection given out, cap == max size
	idle    chan io.ReadWriteCloser // connections waiting to be reused
	timeout time.Duration           // time after all are returned to free all connections
	timer   *time.Timer
	maker   CreationFunc
}

// NewPool returns a pool of at most maxSize connections made by maker.  Idle
// connections are closed once all have been returned for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	return &Pool{
		leases:  make(chan struct{}, maxSize),
		idle:    make(chan io.ReadWriteCloser, maxSize),
		timeout: timeout,
		maker:   maker,
	}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  There is no contention for the returned connection until it is given
// back with Put, or discarded with Destroy if it has gone bad.
//
// If the error from Get is not nil, nothing must be returned to the pool.
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	p.leases <- struct{}{}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	select {
	case conn := <-p.idle:
		return conn, nil
	default:
	}
	conn, err := p.maker()
	if err != nil {
		<-p.leases
		return nil, err
	}
	return conn, nil
}

// Put restores a connection to the pool
func (p *Pool) Put(conn io.ReadWriteCloser) {
	p.mu.Lock()
	p.idle <- conn
	if len(p.leases) == 1 && p.timeout > 0 {
		p.timer = time.AfterFunc(p.timeout, p.reclaim)
	}
	p.mu.Unlock()
	<-p.leases
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(conn io.ReadWriteCloser) {
	conn.Close()
	<-p.leases
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	return len(p.idle) + len(p.leases)
}

// Active returns the number of connections currently given out
func (p *Pool) Active() int {
	return len(p.leases)
}

// Close closes every idle connection
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drain()
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.leases) > 0 {
		return
	}
	p.drain()
}

// drain must be called with mu held
func (p *Pool) drain() {
	for {
		select {
		case conn := <-p.idle:
			conn.Close()
		default:
			return
		}
	}
}
