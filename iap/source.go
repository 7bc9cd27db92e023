package iap

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Source yields the raw bytes of an encoded receipt.
//
// Every call to Fetch reports exactly one outcome: the receipt bytes, or an
// *Error of kind KindNoReceiptFound, KindRefreshFailed or KindIOError. A
// cancelled context is reported as KindOther wrapping the context's error.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Refresher obtains a fresh receipt on the local device, possibly prompting
// the user to authenticate. Start must invoke done exactly once, from any
// goroutine, after an arbitrary delay.
type Refresher interface {
	Start(done func(error))
}

// RefresherFunc is an adapter to allow the use of ordinary functions as
// Refreshers.
type RefresherFunc func(done func(error))

// Start calls f(done).
func (f RefresherFunc) Start(done func(error)) {
	f(done)
}

// Locator answers where the locally stored receipt lives.
type Locator interface {
	Exists() bool
	Locate() (string, bool)
}

// InMemorySource serves receipt bytes supplied directly by the caller.
type InMemorySource struct {
	data []byte
}

func NewInMemorySource(data []byte) *InMemorySource {
	return &InMemorySource{data: cloneBytes(data)}
}

func (s *InMemorySource) Fetch(ctx context.Context) ([]byte, error) {
	if len(s.data) == 0 {
		return nil, NewError(KindNoReceiptFound, errors.New("receipt data is empty"))
	}
	return cloneBytes(s.data), nil
}

// FileSource reads the receipt from a file on every fetch.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	return readReceiptFile(s.path)
}

// FileLocator locates a receipt stored at a fixed path.
type FileLocator struct {
	path string
}

func NewFileLocator(path string) *FileLocator {
	return &FileLocator{path: path}
}

func (l *FileLocator) Exists() bool {
	if l.path == "" {
		return false
	}
	info, err := os.Stat(l.path)
	return err == nil && !info.IsDir()
}

func (l *FileLocator) Locate() (string, bool) {
	return l.path, l.path != ""
}

// DeviceSource reads the receipt stored on the device, refreshing it first
// when it is missing and a Refresher is configured.
//
// Fetches on the same DeviceSource are served one at a time; a second caller
// waits until the first one's fetch cycle, including any refresh, completes.
// A caller that gives up while a refresh is pending gets its context error,
// and the source stays busy until the refresher reports back.
type DeviceSource struct {
	locator   Locator
	refresher Refresher

	busy chan struct{}
}

// NewDeviceSource returns a DeviceSource. A nil refresher disables refreshing.
func NewDeviceSource(locator Locator, refresher Refresher) *DeviceSource {
	return &DeviceSource{
		locator:   locator,
		refresher: refresher,
		busy:      make(chan struct{}, 1),
	}
}

func (s *DeviceSource) Fetch(ctx context.Context) ([]byte, error) {
	select {
	case s.busy <- struct{}{}:
	case <-ctx.Done():
		return nil, NewError(KindOther, ctx.Err())
	}

	release := true
	defer func() {
		if release {
			<-s.busy
		}
	}()

	if path, ok := s.locate(); ok {
		return readReceiptFile(path)
	}

	if s.refresher == nil {
		return nil, NewError(KindNoReceiptFound, errors.New("no receipt found on device"))
	}

	// Each cycle owns its completion channel, so a late or duplicate
	// completion can never be observed by a later fetch.
	done := make(chan error, 1)
	var once sync.Once
	s.refresher.Start(func(err error) {
		once.Do(func() {
			done <- err
		})
	})

	select {
	case err := <-done:
		return s.afterRefresh(err)
	case <-ctx.Done():
		release = false
		go func() {
			<-done
			<-s.busy
		}()
		return nil, NewError(KindOther, ctx.Err())
	}
}

func (s *DeviceSource) afterRefresh(refreshErr error) ([]byte, error) {
	if refreshErr != nil {
		return nil, NewError(KindRefreshFailed, refreshErr)
	}

	path, ok := s.locate()
	if !ok {
		return nil, NewError(KindRefreshFailed, errors.New("no receipt found after refresh"))
	}

	return readReceiptFile(path)
}

func (s *DeviceSource) locate() (string, bool) {
	if !s.locator.Exists() {
		return "", false
	}
	return s.locator.Locate()
}

func readReceiptFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(KindIOError, errors.Wrapf(err, "failed to read receipt %s", path))
	}
	if len(data) == 0 {
		return nil, NewError(KindNoReceiptFound, errors.Errorf("receipt file %s is empty", path))
	}
	return data, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
