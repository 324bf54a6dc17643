package session

// DefaultContextSize is how many final utterances the model sees as context.
const DefaultContextSize = 3

// ContextBuffer keeps the last N accepted utterances in arrival order.
type ContextBuffer struct {
	size  int
	items []string
}

func NewContextBuffer(size int) *ContextBuffer {
	if size <= 0 {
		size = DefaultContextSize
	}
	return &ContextBuffer{size: size, items: make([]string, 0, size)}
}

// Push appends text, evicting the oldest entry at capacity.
func (b *ContextBuffer) Push(text string) {
	if len(b.items) == b.size {
		copy(b.items, b.items[1:])
		b.items = b.items[:b.size-1]
	}
	b.items = append(b.items, text)
}

// Items returns a copy, oldest first.
func (b *ContextBuffer) Items() []string {
	return append([]string{}, b.items...)
}

func (b *ContextBuffer) Len() int { return len(b.items) }
func (b *ContextBuffer) Cap() int { return b.size }

func (b *ContextBuffer) Clear() { b.items = b.items[:0] }
