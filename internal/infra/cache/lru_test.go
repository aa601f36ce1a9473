package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDedupSeenAndEviction(t *testing.T) {
	d := NewDedup(3)
	if d.Seen("1:1") {
		t.Fatal("первый показ не должен считаться дубликатом")
	}
	if !d.Seen("1:1") {
		t.Fatal("повторный показ должен считаться дубликатом")
	}
	d.Seen("1:2")
	d.Seen("1:3")
	if !d.Contains("1:2") {
		t.Fatal("Contains должен находить свежий ключ")
	}
	d.Seen("1:4") // вытесняет 1:1
	if d.Len() != 3 {
		t.Fatalf("размер ограничен ёмкостью, получили %d", d.Len())
	}
	if d.Seen("1:1") {
		t.Fatal("вытесненный ключ забыт")
	}
}

func TestDedupContainsDoesNotMark(t *testing.T) {
	d := NewDedup(4)
	if d.Contains("x") {
		t.Fatal("пустое множество ничего не содержит")
	}
	if d.Seen("x") {
		t.Fatal("Contains не должен был отметить ключ")
	}
}

func TestDedupConcurrent(t *testing.T) {
	d := NewDedup(128)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.Seen(fmt.Sprintf("%d:%d", base, i%64))
			}
		}(w)
	}
	wg.Wait()
	if d.Len() > 128 {
		t.Fatalf("ёмкость превышена: %d", d.Len())
	}
}

func TestInfoTTL(t *testing.T) {
	c := NewInfo(10, time.Minute)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.Set("chan", "инфо")
	if got, ok := c.Get("chan"); !ok || got != "инфо" {
		t.Fatal("свежая запись должна находиться")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := c.Get("chan"); ok {
		t.Fatal("протухшая запись не должна возвращаться")
	}
}

func TestInfoLRUEviction(t *testing.T) {
	c := NewInfo(2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // освежает a
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("наименее используемая запись должна вытесняться")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("освежённая запись должна сохраниться")
	}
	if c.Len() != 2 {
		t.Fatalf("ёмкость ограничена двумя записями, получили %d", c.Len())
	}
}
