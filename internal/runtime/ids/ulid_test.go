package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestULIDGeneratorSequentialOrdering(t *testing.T) {
	gen := NewULIDGenerator()

	const total = 100
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		ids[i] = gen.NewID()
	}

	for i := 0; i < total; i++ {
		if len(ids[i]) != 26 {
			t.Fatalf("expected ULID length 26, got %d", len(ids[i]))
		}
		if _, err := ulid.Parse(ids[i]); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
	}

	for i := 1; i < total; i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestGeneratorsConcurrentUniqueness(t *testing.T) {
	generators := map[string]Generator{
		"ulid":     NewULIDGenerator(),
		"uuid":     UUIDGenerator{},
		"sequence": NewSequenceGenerator("m"),
	}

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			const goroutines = 10
			const perGoroutine = 20

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = make(map[string]struct{})
			)

			wg.Add(goroutines)
			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					for j := 0; j < perGoroutine; j++ {
						id := gen.NewID()
						mu.Lock()
						if _, ok := seen[id]; ok {
							t.Errorf("duplicate id generated: %s", id)
						} else {
							seen[id] = struct{}{}
						}
						mu.Unlock()
					}
				}()
			}

			wg.Wait()

			expected := goroutines * perGoroutine
			if len(seen) != expected {
				t.Fatalf("expected %d unique ids, got %d", expected, len(seen))
			}
		})
	}
}

func TestUUIDGeneratorProducesVersion7(t *testing.T) {
	id, err := uuid.Parse(UUIDGenerator{}.NewID())
	if err != nil {
		t.Fatalf("expected valid UUID, got %v", err)
	}
	if id.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id.Version())
	}
}

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("msg-")
	if got := gen.NewID(); got != "msg-1" {
		t.Fatalf("first id = %q, want msg-1", got)
	}
	if got := gen.NewID(); got != "msg-2" {
		t.Fatalf("second id = %q, want msg-2", got)
	}
}

func TestNewResolvesByName(t *testing.T) {
	for _, name := range []string{"", "ulid", "uuid", "sequence"} {
		gen, err := New(name)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if gen.NewID() == "" {
			t.Fatalf("New(%q) produced an empty id", name)
		}
	}

	if _, err := New("snowflake"); err == nil {
		t.Fatal("expected error for unknown generator")
	}
}

func TestGeneratorFunc(t *testing.T) {
	gen := GeneratorFunc(func() string { return "fixed" })
	if gen.NewID() != "fixed" {
		t.Fatal("GeneratorFunc should delegate")
	}
}

func TestCreateULID(t *testing.T) {
	a, b := CreateULID(), CreateULID()
	if a >= b {
		t.Fatalf("expected increasing ULIDs, got %s then %s", a, b)
	}
}
