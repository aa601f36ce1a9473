// Package cache содержит ограниченные по размеру кэши процесса:
// набор недавних идентификаторов (дедупликация), TTL-кэш сведений о
// каналах и Redis-обёртку для разделяемых TTL-значений.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Dedup — ограниченное множество недавно виденных ключей с вытеснением
// по LRU. Безопасен для конкурентного доступа.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedup создаёт множество на capacity элементов.
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = 1
	}
	return &Dedup{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen отмечает ключ и возвращает true, если он уже встречался.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if elem, ok := d.index[key]; ok {
		d.order.MoveToFront(elem)
		return true
	}
	d.index[key] = d.order.PushFront(key)
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(string))
	}
	return false
}

// Contains проверяет ключ без отметки и без освежения позиции.
func (d *Dedup) Contains(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.index[key]
	return ok
}

// Len возвращает текущий размер множества.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

type infoEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Info — кэш произвольных значений с TTL и вытеснением по LRU.
// Используется для сведений о каналах и результатов проверки возможностей.
type Info struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	index    map[string]*list.Element
	now      func() time.Time
}

// NewInfo создаёт кэш на capacity записей со сроком жизни ttl.
func NewInfo(capacity int, ttl time.Duration) *Info {
	if capacity <= 0 {
		capacity = 1
	}
	return &Info{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get возвращает значение, если оно есть и не протухло.
func (c *Info) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*infoEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.index, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Set сохраняет значение, вытесняя самую старую запись при переполнении.
func (c *Info) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := c.now().Add(c.ttl)
	if elem, ok := c.index[key]; ok {
		entry := elem.Value.(*infoEntry)
		entry.value = value
		entry.expiresAt = expires
		c.order.MoveToFront(elem)
		return
	}
	c.index[key] = c.order.PushFront(&infoEntry{key: key, value: value, expiresAt: expires})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*infoEntry).key)
	}
}

// Len возвращает число записей, включая протухшие, но не вытесненные.
func (c *Info) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
