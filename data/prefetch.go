package data

import "sync"

type prefetched struct {
	batch Batch
	err   error
}

// Prefetcher reads ahead from a Source on a goroutine while preserving
// batch order. Next blocks until the following batch is ready.
type Prefetcher struct {
	src   Source
	depth int

	mu   sync.Mutex
	ch   chan prefetched
	stop chan struct{}
	done chan struct{}
}

// Prefetch wraps src with a read-ahead buffer of depth batches.
func Prefetch(src Source, depth int) *Prefetcher {
	if depth < 1 {
		depth = 1
	}
	p := &Prefetcher{src: src, depth: depth}
	p.start()
	return p
}

func (p *Prefetcher) start() {
	ch := make(chan prefetched, p.depth)
	stop := make(chan struct{})
	done := make(chan struct{})
	p.ch, p.stop, p.done = ch, stop, done
	go func() {
		defer close(done)
		defer close(ch)
		for {
			select {
			case <-stop:
				return
			default:
			}
			b, err := p.src.Next()
			select {
			case ch <- prefetched{batch: b, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// halt stops the reader and waits for it, so the source is idle.
func (p *Prefetcher) halt() {
	close(p.stop)
	for range p.ch {
	}
	<-p.done
}

func (p *Prefetcher) Next() (Batch, error) {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	item, ok := <-ch
	if !ok {
		return Batch{}, ErrEndOfEpoch
	}
	return item.batch, item.err
}

// Reset stops the reader, resets the wrapped source and starts reading
// the next epoch.
func (p *Prefetcher) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halt()
	if err := p.src.Reset(); err != nil {
		return err
	}
	p.start()
	return nil
}

// Close releases the reader goroutine.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halt()
	p.ch = make(chan prefetched)
	close(p.ch)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	close(p.done)
}

func (p *Prefetcher) BatchSize() int { return p.src.BatchSize() }
func (p *Prefetcher) Len() int       { return p.src.Len() }
