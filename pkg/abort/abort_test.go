package abort

import (
	"sync"
	"testing"
)

func TestRequestAbortIsIdempotent(t *testing.T) {
	var c Controller
	if c.ShouldAbort() {
		t.Fatal("New controller should not be aborted")
	}

	c.RequestAbort()
	c.RequestAbort()
	if !c.ShouldAbort() {
		t.Error("Expected abort after RequestAbort")
	}

	c.Reset()
	if c.ShouldAbort() {
		t.Error("Expected Reset to clear the flag")
	}
}

func TestConcurrentAccess(t *testing.T) {
	var c Controller
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.RequestAbort()
		}()
		go func() {
			defer wg.Done()
			_ = c.ShouldAbort()
		}()
	}
	wg.Wait()

	if !c.ShouldAbort() {
		t.Error("Expected abort to be observed after all writers finished")
	}
}
