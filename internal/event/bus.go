package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType 定义事件类型
type EventType string

const (
	EventJobStarted  EventType = "job_started"
	EventJobProgress EventType = "job_progress"
	EventJobFinished EventType = "job_finished"
)

// Event 代表一个系统事件
type Event struct {
	Type    EventType
	Payload interface{}
}

// JobEvent is the payload of every job_* event.
type JobEvent struct {
	JobID    string
	UserID   int64
	Name     string
	Progress float64
	Outcome  string // set on job_finished only
	At       time.Time
}

// Handler 处理事件的函数签名
type Handler func(event Event)

// Bus 事件总线接口
type Bus interface {
	Subscribe(topic EventType, handler Handler) string // 返回 Subscription ID
	Unsubscribe(topic EventType, subID string)
	Publish(topic EventType, payload interface{})
}

type handlerWrapper struct {
	id      string
	handler Handler
}

// InMemoryBus 简单的内存事件总线实现
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerWrapper
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[EventType][]handlerWrapper),
	}
}

func (b *InMemoryBus) Subscribe(topic EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.handlers[topic] = append(b.handlers[topic], handlerWrapper{id: id, handler: handler})
	return id
}

func (b *InMemoryBus) Unsubscribe(topic EventType, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wrappers := b.handlers[topic]
	for i, w := range wrappers {
		if w.id == subID {
			// copy so in-flight Publish snapshots stay intact
			rest := make([]handlerWrapper, 0, len(wrappers)-1)
			rest = append(rest, wrappers[:i]...)
			b.handlers[topic] = append(rest, wrappers[i+1:]...)
			break
		}
	}
}

func (b *InMemoryBus) Publish(topic EventType, payload interface{}) {
	b.mu.RLock()
	wrappers := b.handlers[topic]
	b.mu.RUnlock()

	// 异步执行所有 Handler，避免阻塞发布者
	evt := Event{Type: topic, Payload: payload}
	for _, w := range wrappers {
		go w.handler(evt)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Subscribe(EventType, Handler) string { return "" }
func (Nop) Unsubscribe(EventType, string)       {}
func (Nop) Publish(EventType, interface{})      {}
