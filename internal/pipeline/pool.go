package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/worklog/internal/upstream"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wl_pipeline_tasks_total",
		Help: "Выполненные задачи конвейера по виду и результату.",
	}, []string{"task", "result"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wl_pipeline_task_duration_seconds",
		Help:    "Длительность задач конвейера (включая повторы).",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"task"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wl_pipeline_queue_depth",
		Help: "Число задач в очереди конвейера.",
	})
)

// ErrClosed - пул остановлен, задачи не принимаются.
var ErrClosed = errors.New("конвейер остановлен")

// Handler исполняет задачу. Ошибка классифицируется пакетом upstream:
// временные ошибки повторяются, постоянные сразу передаются в OnFailure.
type Handler interface {
	Handle(ctx context.Context, t Task) error
	// OnFailure вызывается, когда задача окончательно не выполнена.
	OnFailure(ctx context.Context, t Task, err error)
}

// Options - параметры пула.
type Options struct {
	Workers   int
	QueueSize int
	// MaxAttempts - число попыток задачи, включая первую.
	MaxAttempts int
	// RetryInitial - пауза перед первым повтором.
	RetryInitial time.Duration
}

// Pool - ограниченный пул исполнителей над буферизованной очередью.
type Pool struct {
	handler Handler
	opts    Options
	queue   chan Task
	logger  *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	queued map[string]struct{}
	closed bool
}

// New создаёт пул. Нулевые параметры заменяются значениями по умолчанию.
func New(handler Handler, opts Options, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = time.Second
	}
	return &Pool{
		handler: handler,
		opts:    opts,
		queue:   make(chan Task, opts.QueueSize),
		queued:  make(map[string]struct{}),
		logger:  logger.With(slog.String("component", "pipeline")),
	}
}

// Enqueue ставит задачу в очередь. Задача с тем же ключом, уже ждущая в
// очереди, не дублируется. При заполненной очереди ждёт место или отмену ctx.
func (p *Pool) Enqueue(ctx context.Context, t Task) error {
	key := t.Key()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if key != "" {
		if _, ok := p.queued[key]; ok {
			p.mu.Unlock()
			tasksTotal.WithLabelValues(string(t.Kind), "deduplicated").Inc()
			return nil
		}
		p.queued[key] = struct{}{}
	}
	p.mu.Unlock()

	select {
	case p.queue <- t:
		queueDepth.Inc()
		return nil
	case <-ctx.Done():
		p.forget(key)
		return ctx.Err()
	}
}

// TryEnqueue ставит задачу без ожидания. Используется исполнителями для
// следующих стадий: при полной очереди задача отбрасывается, а запись
// подбирает задача восстановления.
func (p *Pool) TryEnqueue(t Task) bool {
	key := t.Key()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if key != "" {
		if _, ok := p.queued[key]; ok {
			tasksTotal.WithLabelValues(string(t.Kind), "deduplicated").Inc()
			return true
		}
	}
	select {
	case p.queue <- t:
		if key != "" {
			p.queued[key] = struct{}{}
		}
		queueDepth.Inc()
		return true
	default:
		tasksTotal.WithLabelValues(string(t.Kind), "dropped").Inc()
		p.logger.Warn("Очередь конвейера заполнена, задача отброшена", slog.String("task", t.String()))
		return false
	}
}

// forget снимает отметку «в очереди».
func (p *Pool) forget(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	delete(p.queued, key)
	p.mu.Unlock()
}

// Len возвращает текущую длину очереди.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Run запускает исполнителей и блокируется до отмены ctx.
// Задачи, оставшиеся в очереди, не выполняются: записи остаются в
// промежуточном состоянии и подбираются задачей восстановления.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("Конвейер запущен",
		slog.Int("workers", p.opts.Workers),
		slog.Int("queue_size", p.opts.QueueSize),
	)

	var wg sync.WaitGroup
	for range p.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.logger.Info("Конвейер остановлен", slog.Int("dropped", len(p.queue)))
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			queueDepth.Dec()
			p.forget(t.Key())
			p.execute(ctx, t)
		}
	}
}

// execute выполняет задачу с повторами. Одинаковые задачи, выполняющиеся
// одновременно, схлопываются через singleflight.
func (p *Pool) execute(ctx context.Context, t Task) {
	run := func() (any, error) {
		return nil, p.attempt(ctx, t)
	}
	var err error
	if key := t.Key(); key != "" {
		_, err, _ = p.group.Do(key, run)
	} else {
		_, err = run()
	}
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// Отмена: запись остаётся в текущем состоянии.
		return
	}
	p.handler.OnFailure(ctx, t, err)
}

func (p *Pool) attempt(ctx context.Context, t Task) error {
	start := time.Now()
	policy := upstream.Policy{
		Initial:    p.opts.RetryInitial,
		Multiplier: 2,
		MaxRetries: uint64(p.opts.MaxAttempts - 1), //nolint:gosec // MaxAttempts >= 1
		Notify: func(err error, wait time.Duration) {
			tasksTotal.WithLabelValues(string(t.Kind), "retry").Inc()
			p.logger.Warn("Повтор задачи",
				slog.String("task", t.String()),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		},
	}
	err := upstream.Retry(ctx, policy, func() error {
		return p.handler.Handle(ctx, t)
	})
	taskDuration.WithLabelValues(string(t.Kind)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		tasksTotal.WithLabelValues(string(t.Kind), "ok").Inc()
	case upstream.IsPermanent(err):
		tasksTotal.WithLabelValues(string(t.Kind), "permanent").Inc()
	default:
		tasksTotal.WithLabelValues(string(t.Kind), "failed").Inc()
	}
	return err
}
