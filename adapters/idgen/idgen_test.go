package idgen_test

import (
	"regexp"
	"sync"
	"testing"

	"github.com/artpar/apimech/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	id := idgen.UUID{}.New()

	// UUID v4 format: 8-4-4-4-12 hex chars
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v4 format", id)
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("conn-")

	for _, want := range []string{"conn-1", "conn-2", "conn-3"} {
		if id := g.New(); id != want {
			t.Errorf("ID = %s, want %s", id, want)
		}
	}
}

func TestSequential_ConcurrentAccess(t *testing.T) {
	g := idgen.NewSequential("")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.New()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("expected 1000 unique IDs, got %d", len(seen))
	}
}
