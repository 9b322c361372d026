package bus

import (
	"encoding/json"
	"sync"
	"time"

	"vigil/internal/logger"
	"vigil/internal/signal"
)

// Event 是进入事件流的一条状态迁移记录。
type Event struct {
	Key    signal.Key    `json:"-"`
	KeyStr string        `json:"key"`
	At     time.Time     `json:"at"`
	Kind   string        `json:"kind"`
	Result signal.Result `json:"payload"`

	// Risk 非空表示这是一条风险事件（提案被拒等），Result 为空。
	Risk string `json:"risk,omitempty"`
}

// MarshalPayload 把事件编码成外发 JSON。
func (e Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e)
}

// Hub 把引擎产出的事件按发布顺序扇出给所有订阅者。
// 每个订阅者一条带缓冲队列和一个投递 goroutine：慢消费者只拖慢自己，
// 队列打满则丢弃该订阅者并向 Faults 上报，发布端永不阻塞。
type Hub struct {
	mu        sync.Mutex
	subs      map[int]*subscriber
	nextID    int
	queueSize int
	faults    chan error
	closed    bool
}

type subscriber struct {
	id int
	ch chan Event
}

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		subs:      make(map[int]*subscriber),
		queueSize: queueSize,
		faults:    make(chan error, 16),
	}
}

// Subscribe 返回按发布顺序投递的事件通道和取消函数。
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	sub := &subscriber{id: id, ch: make(chan Event, h.queueSize)}
	if h.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[id] = sub
	return sub.ch, func() { h.drop(id) }
}

// Faults 暴露故障通道：订阅者溢出被踢出，以及引擎循环上报的运行故障。
func (h *Hub) Faults() <-chan error { return h.faults }

// PublishFault 把引擎循环的故障送入 Faults 通道；致命与否由消费方
// 用 signal.IsFatal 判定。守护方消费不及时则丢弃，发布端不阻塞。
func (h *Hub) PublishFault(key signal.Key, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.faults <- &EngineFault{Key: key, Err: err}:
	default:
	}
}

// Publish 实现 signal.Sink。
func (h *Hub) Publish(key signal.Key, at time.Time, res signal.Result) {
	h.fanout(Event{
		Key:    key,
		KeyStr: key.String(),
		At:     at,
		Kind:   res.Kind().String(),
		Result: res,
	})
}

// PublishRisk 实现 signal.Sink 的风险分支。
func (h *Hub) PublishRisk(key signal.Key, at time.Time, err error) {
	h.fanout(Event{
		Key:    key,
		KeyStr: key.String(),
		At:     at,
		Kind:   "risk",
		Risk:   err.Error(),
	})
}

func (h *Hub) fanout(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			// 队列打满：保序的前提下无法跳过事件，只能放弃该订阅者
			logger.Warnf("bus: subscriber %d overflowed, dropping", id)
			delete(h.subs, id)
			close(sub.ch)
			select {
			case h.faults <- &OverflowError{Subscriber: id, Key: ev.Key}:
			default:
			}
		}
	}
}

func (h *Hub) drop(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Close 关闭所有订阅通道，之后的 Publish 为空操作。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	close(h.faults)
}

// OverflowError 标记一个订阅者因消费过慢被移除。
type OverflowError struct {
	Subscriber int
	Key        signal.Key
}

func (e *OverflowError) Error() string {
	return "bus: subscriber queue overflow on " + e.Key.String()
}

// EngineFault 包装某个 key 的引擎循环故障。
type EngineFault struct {
	Key signal.Key
	Err error
}

func (e *EngineFault) Error() string {
	return "engine fault on " + e.Key.String() + ": " + e.Err.Error()
}

func (e *EngineFault) Unwrap() error { return e.Err }
