package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/event"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultBatchSize = 10
	maxBatchSize     = 100
)

var ErrPollerAlreadyStarted = errors.New("poller already started")

type QueueClient interface {
	PollQueue(ctx context.Context, tenantID string, limit int, queueName string) ([]platform.QueueMessage, error)
	AcknowledgeMessages(ctx context.Context, tenantID string, messageIDs []int64) error
	FailMessages(ctx context.Context, tenantID string, messageIDs []int64, errorMessage string) error
}

type EventEmitter interface {
	EmitEvent(ctx context.Context, ev event.CanonicalEvent) error
}

type Config struct {
	TenantID  string
	QueueName string
	BatchSize int
	Interval  time.Duration
}

type Poller struct {
	cfg     Config
	client  QueueClient
	emitter EventEmitter
	logger  *log.Logger

	mu       sync.Mutex
	running  bool
	inFlight bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	tickerFactory func(interval time.Duration) pollTicker
}

func New(cfg Config, client QueueClient, emitter EventEmitter, logger *log.Logger) *Poller {
	if client == nil {
		panic("poller: client is required")
	}
	if emitter == nil {
		panic("poller: emitter is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		emitter: emitter,
		logger:  logger,
		tickerFactory: func(interval time.Duration) pollTicker {
			return newRealTicker(interval)
		},
	}
}

func (p *Poller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if strings.TrimSpace(p.cfg.TenantID) == "" {
		return fmt.Errorf("poller tenant id is required")
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerAlreadyStarted
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	ticker := p.tickerFactory(p.cfg.Interval)
	p.running = true
	p.stopCh = stopCh
	p.doneCh = doneCh
	p.mu.Unlock()

	go p.run(ctx, ticker, stopCh, doneCh)
	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.running = false
	p.stopCh = nil
	p.doneCh = nil
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (p *Poller) run(ctx context.Context, ticker pollTicker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer ticker.Stop()

	go p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.Chan():
			go p.tick(ctx)
		}
	}
}

// tick is single-flight: a tick arriving while a prior one is still
// processing is skipped, not queued.
func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		p.logger.Printf("poll tick skipped tenant_id=%s reason=previous tick in flight", p.cfg.TenantID)
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	if err := p.poll(ctx); err != nil {
		p.logger.Printf("poll tick failed tenant_id=%s err=%v", p.cfg.TenantID, err)
	}
}

// RunOnce executes exactly one poll cycle synchronously.
func (p *Poller) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(p.cfg.TenantID) == "" {
		return fmt.Errorf("poller tenant id is required")
	}
	return p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) error {
	messages, err := p.client.PollQueue(ctx, p.cfg.TenantID, p.cfg.BatchSize, p.cfg.QueueName)
	if err != nil {
		return fmt.Errorf("poll queue: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	emitted := make([]int64, 0, len(messages))
	failed := make([]int64, 0)
	var firstEmitErr error
	for _, msg := range messages {
		ev := event.FromQueueMessage(msg, p.cfg.TenantID)
		if err := p.emitter.EmitEvent(ctx, ev); err != nil {
			p.logger.Printf("emit queue message failed message_id=%d err=%v", msg.ID, err)
			failed = append(failed, msg.ID)
			if firstEmitErr == nil {
				firstEmitErr = err
			}
			continue
		}
		emitted = append(emitted, msg.ID)
	}

	if len(emitted) > 0 {
		if err := p.client.AcknowledgeMessages(ctx, p.cfg.TenantID, emitted); err != nil {
			p.logger.Printf("acknowledge failed tenant_id=%s message_ids=%v err=%v", p.cfg.TenantID, emitted, err)
		}
	}
	if len(failed) > 0 {
		if err := p.client.FailMessages(ctx, p.cfg.TenantID, failed, fmt.Sprintf("emit failed: %v", firstEmitErr)); err != nil {
			p.logger.Printf("fail report failed tenant_id=%s message_ids=%v err=%v", p.cfg.TenantID, failed, err)
		}
	}
	return nil
}

type pollTicker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct {
	ticker *time.Ticker
}

func newRealTicker(interval time.Duration) *realTicker {
	return &realTicker{ticker: time.NewTicker(interval)}
}

func (t *realTicker) Chan() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}
