package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// 审计事件名
const (
	EventWorkflowExecuted      = "workflow.executed"
	EventWorkflowRuleCreated   = "workflow.rule.created"
	EventRoutingRuleCreated    = "routing.rule.created"
	EventEscalationPathCreated = "escalation.path.created"
)

// Event 事件总线上的一条消息，既作审计也作工作流引擎的触发源
type Event struct {
	Name       string                 `json:"name"`
	TenantID   uint                   `json:"tenant_id"`
	TicketID   uint                   `json:"ticket_id"`
	ActorID    uint                   `json:"actor_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// EventHandler 同步处理一条事件
type EventHandler func(ctx context.Context, evt Event)

// EventBus 进程内发布/订阅。上层可替换为真实消息传输。
type EventBus interface {
	Publish(ctx context.Context, evt Event)
	Subscribe(name string, handler EventHandler)
}

// InMemoryBus 默认总线实现。Publish 同步调用每个订阅者；
// 排队/异步派发是外部事件分发器的职责，不在引擎内。
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *logrus.Logger
}

func NewInMemoryBus(logger *logrus.Logger) *InMemoryBus {
	if logger == nil {
		logger = logrus.New()
	}
	return &InMemoryBus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

func (b *InMemoryBus) Subscribe(name string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

func (b *InMemoryBus) Publish(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	b.mu.RLock()
	handlers := b.handlers[evt.Name]
	b.mu.RUnlock()

	b.logger.Debugf("event %s tenant=%d ticket=%d", evt.Name, evt.TenantID, evt.TicketID)
	for _, h := range handlers {
		h(ctx, evt)
	}
}
