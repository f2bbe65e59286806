package dial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

var logger = log.Logger("swarm/dial")

// DialFunc attempts one transport-level connection to addr.
type DialFunc func(ctx context.Context, addr multiaddr.Multiaddr) (interfaces.RawConn, error)

// AllAttemptsFailed carries the per-address errors from a dial that
// exhausted every ranked candidate.
type AllAttemptsFailed struct {
	Peer   types.PeerID
	Errors map[string]error
}

func (e *AllAttemptsFailed) Error() string {
	return fmt.Sprintf("dial: all %d attempts failed for peer %s", len(e.Errors), e.Peer.ShortString())
}

// Worker is the single coordinator for all concurrent dial attempts to
// one peer: it launches ranked candidates on their scheduled delay and
// returns the first successful connection, cancelling the rest.
type Worker struct {
	peer types.PeerID
}

// Run dials ranked candidates per their AddressDelay schedule via
// dialFn, returning the first successful RawConn. Later-scheduled
// attempts are cancelled once any attempt succeeds.
func (w *Worker) Run(ctx context.Context, ranked []AddressDelay, dialFn DialFunc) (interfaces.RawConn, error) {
	if len(ranked) == 0 {
		return nil, &AllAttemptsFailed{Peer: w.peer, Errors: map[string]error{}}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type attemptResult struct {
		addr multiaddr.Multiaddr
		conn interfaces.RawConn
		err  error
	}
	results := make(chan attemptResult, len(ranked))
	var wg sync.WaitGroup

	for _, cand := range ranked {
		cand := cand
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cand.Delay > 0 {
				timer := time.NewTimer(cand.Delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-ctx.Done():
					results <- attemptResult{addr: cand.Addr, err: ctx.Err()}
					return
				}
			}
			conn, err := dialFn(ctx, cand.Addr)
			results <- attemptResult{addr: cand.Addr, conn: conn, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	errs := make(map[string]error, len(ranked))
	var winner interfaces.RawConn
	for r := range results {
		if r.err == nil && winner == nil {
			winner = r.conn
			cancel()
			continue
		}
		if r.err != nil {
			errs[r.addr.String()] = r.err
		} else if r.conn != nil {
			_ = r.conn.Close()
		}
	}

	if winner != nil {
		return winner, nil
	}
	return nil, &AllAttemptsFailed{Peer: w.peer, Errors: errs}
}

// call is the in-flight state shared by every caller dialing the same
// peer concurrently.
type call struct {
	done chan struct{}
	conn interfaces.RawConn
	err  error
}

// Synchronizer guarantees at most one Worker exists per peer at any
// instant; concurrent Dial callers for the same peer share one result.
type Synchronizer struct {
	mu      sync.Mutex
	inFlight map[types.PeerID]*call
	closed  bool
}

// NewSynchronizer constructs an empty Synchronizer.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{inFlight: make(map[types.PeerID]*call)}
}

// Dial obtains-or-creates the DialWorker for peer, awaits its result,
// and removes the entry once it completes.
func (s *Synchronizer) Dial(ctx context.Context, peer types.PeerID, ranked []AddressDelay, dialFn DialFunc) (interfaces.RawConn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("dial: synchronizer is closed")
	}
	if c, ok := s.inFlight[peer]; ok {
		s.mu.Unlock()
		<-c.done
		return c.conn, c.err
	}
	c := &call{done: make(chan struct{})}
	s.inFlight[peer] = c
	s.mu.Unlock()

	w := &Worker{peer: peer}
	conn, err := w.Run(ctx, ranked, dialFn)

	c.conn, c.err = conn, err
	close(c.done)

	s.mu.Lock()
	delete(s.inFlight, peer)
	s.mu.Unlock()

	return conn, err
}

// NumInFlight reports how many DialWorkers are currently active, used
// by tests asserting dial uniqueness.
func (s *Synchronizer) NumInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Close marks the synchronizer closed; new Dial calls fail immediately.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
