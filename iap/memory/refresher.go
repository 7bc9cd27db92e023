package memory

import (
	"os"
	"sync"
)

// Refresher is a scripted iap.Refresher. On completion it writes its receipt
// data to path (when it has any) and reports its configured error.
//
// A held Refresher queues completions until Complete is called, which lets
// tests model a user who takes a while to authenticate.
type Refresher struct {
	mu      sync.Mutex
	path    string
	data    []byte
	err     error
	hold    bool
	pending []func(error)
	starts  int
}

func NewRefresher(path string, data []byte) *Refresher {
	return &Refresher{
		path: path,
		data: data,
	}
}

// Fail makes subsequent refreshes fail with err without writing a receipt.
func (r *Refresher) Fail(err error) *Refresher {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
	return r
}

// Hold makes the refresher wait for Complete before reporting back.
func (r *Refresher) Hold() *Refresher {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hold = true
	return r
}

func (r *Refresher) Start(done func(error)) {
	r.mu.Lock()
	r.starts++
	if r.hold {
		r.pending = append(r.pending, done)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	done(r.finish())
}

// Complete reports back to every held refresh.
func (r *Refresher) Complete() {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, done := range pending {
		done(r.finish())
	}
}

// Pending returns the number of refreshes waiting for Complete.
func (r *Refresher) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

func (r *Refresher) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.starts
}

func (r *Refresher) finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	if r.data != nil {
		if err := os.WriteFile(r.path, r.data, 0o600); err != nil {
			return err
		}
	}
	return nil
}
