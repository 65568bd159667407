package sharded

import (
	"fmt"
	"sync"
	"testing"
)

func TestSetBasics(t *testing.T) {
	s := NewSet()

	if s.Has("a") {
		t.Error("empty set should not contain 'a'")
	}
	s.Store("a")
	if !s.Has("a") {
		t.Error("set should contain 'a' after Store")
	}
	if s.Count() != 1 {
		t.Errorf("expected count 1, got %d", s.Count())
	}

	if loaded := s.LoadOrStore("a"); !loaded {
		t.Error("LoadOrStore of existing key should report loaded")
	}
	if loaded := s.LoadOrStore("b"); loaded {
		t.Error("LoadOrStore of new key should not report loaded")
	}

	s.Delete("a")
	if s.Has("a") {
		t.Error("set should not contain 'a' after Delete")
	}

	s.Clear()
	if s.Count() != 0 {
		t.Errorf("expected empty set after Clear, got %d", s.Count())
	}
}

func TestSetConcurrentStore(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Store(fmt.Sprintf("g%d/file%d.txt", g, i))
			}
		}(g)
	}
	wg.Wait()

	if s.Count() != 8*200 {
		t.Errorf("expected %d keys, got %d", 8*200, s.Count())
	}
	if len(s.Keys()) != 8*200 {
		t.Errorf("Keys() length mismatch")
	}
}

func TestMapBasics(t *testing.T) {
	m := NewMap()

	if _, ok := m.Load("x"); ok {
		t.Error("empty map should not contain 'x'")
	}
	m.Store("x", 42)
	if v, ok := m.Load("x"); !ok || v.(int) != 42 {
		t.Errorf("expected 42, got %v (present=%v)", v, ok)
	}

	m.Store("y", "hello")
	items := m.Items()
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}

	m.Delete("x")
	if _, ok := m.Load("x"); ok {
		t.Error("map should not contain 'x' after Delete")
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("expected empty map after Clear, got %d", m.Count())
	}
}

func TestMapConcurrentAccess(t *testing.T) {
	m := NewMap()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d/err%d", g, i)
				m.Store(key, g)
				if _, ok := m.Load(key); !ok {
					t.Errorf("key %s disappeared", key)
				}
			}
		}(g)
	}
	wg.Wait()

	if m.Count() != 8*100 {
		t.Errorf("expected %d entries, got %d", 8*100, m.Count())
	}
}
