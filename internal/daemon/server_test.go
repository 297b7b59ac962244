package daemon

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/scantech/usbrelay/internal/watch"
)

type idleMethod struct{}

func (idleMethod) Name() string            { return "idle" }
func (idleMethod) Detect() (string, error) { return "", nil }
func (idleMethod) OnAttach(string)         {}
func (idleMethod) OnDetach(string)         {}

func TestPokeWatcherWithoutWatcher(t *testing.T) {
	d := &Daemon{}
	d.pokeWatcher()
}

func TestPokeWatcherDuringStackReplacement(t *testing.T) {
	d := &Daemon{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Wake callbacks and config reloads run on different goroutines; the
	// poke must only ever touch a snapshot of the watcher field.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				d.pokeWatcher()
			}
		}
	}()
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 100; i++ {
			watcher := watch.New(idleMethod{}, time.Second, watch.Events{}, logger)
			d.mu.Lock()
			d.watcher = watcher
			d.mu.Unlock()
		}
	}()
	wg.Wait()
}
