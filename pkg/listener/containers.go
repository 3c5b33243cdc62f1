package listener

import "sync"

// ContainerKey identifies one consumer container.
type ContainerKey struct {
	GroupID string
	Topic   string
}

// Containers is the set of running containers of one factory.
type Containers[C any] struct {
	mu    sync.Mutex
	items map[ContainerKey]C
	order []ContainerKey
}

// LoadOrCreate returns the container for key, calling create only if none exists.
// created reports whether create ran successfully.
func (c *Containers[C]) LoadOrCreate(key ContainerKey, create func() (C, error)) (C, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		return existing, false, nil
	}
	item, err := create()
	if err != nil {
		var zero C
		return zero, false, err
	}
	if c.items == nil {
		c.items = map[ContainerKey]C{}
	}
	c.items[key] = item
	c.order = append(c.order, key)
	return item, true, nil
}

// All returns the containers in creation order.
func (c *Containers[C]) All() []C {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]C, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}

func (c *Containers[C]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
