package token

import (
	"sync"
	"testing"
	"time"
)

func TestToken(t *testing.T) {
	tk := Token{
		Value:    "abc",
		Deadline: time.Now(),
	}

	buf, errJSON := tk.ExportJSON()
	if errJSON != nil {
		t.Errorf("export: %v", errJSON)
	}

	tk2, errNew := NewTokenFromJSON(buf)
	if errNew != nil {
		t.Errorf("import: %v", errNew)
	}

	if tk.Value != tk2.Value {
		t.Errorf("value: '%s' != '%s'", tk.Value, tk2.Value)
	}

	if !tk.Deadline.Equal(tk2.Deadline) {
		t.Errorf("deadline: %v != %v'", tk.Deadline, tk2.Deadline)
	}
}

func TestTokenIsValid(t *testing.T) {
	now := time.Now()
	tk := New("abc", now, time.Minute)

	if !tk.IsValid(now) {
		t.Errorf("fresh token should be valid")
	}
	if !tk.IsValid(now.Add(59 * time.Second)) {
		t.Errorf("token should be valid before deadline")
	}
	if tk.IsValid(now.Add(time.Minute)) {
		t.Errorf("token should be invalid at deadline")
	}
	if (Token{Deadline: now.Add(time.Hour)}).IsValid(now) {
		t.Errorf("empty token should never be valid")
	}
	if remain := tk.Remain(now); remain != time.Minute {
		t.Errorf("remain: %v", remain)
	}
}

func TestSlot(t *testing.T) {
	var s Slot

	if _, found := s.Load(); found {
		t.Errorf("new slot should be empty")
	}

	now := time.Now()
	s.Store(New("abc", now, time.Minute))

	tk, found := s.Load()
	if !found || tk.Value != "abc" {
		t.Errorf("unexpected slot content: found=%t token=%v", found, tk)
	}

	if s.ClearIf("other") {
		t.Errorf("ClearIf must not clear a different token")
	}
	if _, found := s.Load(); !found {
		t.Errorf("slot should still hold its token")
	}
	if !s.ClearIf("abc") {
		t.Errorf("ClearIf should clear matching token")
	}
	if _, found := s.Load(); found {
		t.Errorf("slot should be empty after ClearIf")
	}

	s.Store(New("def", now, time.Minute))
	s.Clear()
	if _, found := s.Load(); found {
		t.Errorf("cleared slot should be empty")
	}
}

func TestSlotConcurrency(t *testing.T) {
	var s Slot
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Store(New("abc", now, time.Minute))
				if tk, found := s.Load(); found && tk.Value != "abc" {
					t.Errorf("unexpected value: %s", tk.Value)
				}
			}
		}()
	}
	wg.Wait()
}
