// Пакет scheduler - минимальный планировщик именованных периодических задач.
// Задача никогда не выполняется параллельно сама с собой: тик, пришедший во
// время выполнения, пропускается.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wl_scheduler_runs_total",
	Help: "Запуски задач планировщика по результату (ok, error, skipped).",
}, []string{"job", "result"})

// Ошибки планировщика.
var (
	ErrUnknownJob = errors.New("неизвестная задача планировщика")
	ErrRunning    = errors.New("задача уже выполняется")
)

// JobFunc - тело задачи.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	running  atomic.Bool
	lastRun  atomic.Int64
}

// Scheduler - набор задач с собственными тикерами.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*job
	logger *slog.Logger
}

// New создаёт пустой планировщик.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Add регистрирует задачу. Повторная регистрация имени - ошибка программиста.
func (s *Scheduler) Add(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		panic(fmt.Sprintf("scheduler: задача %q уже зарегистрирована", name))
	}
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
}

// Names возвращает имена задач в алфавитном порядке.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run запускает тикеры всех задач и блокируется до отмены ctx,
// дожидаясь завершения выполняющихся задач.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.RLock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j)
		}()
	}
	s.logger.Info("Планировщик запущен", slog.Int("jobs", len(jobs)))
	wg.Wait()
	s.logger.Info("Планировщик остановлен")
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, j)
		}
	}
}

// RunNow выполняет задачу немедленно и синхронно.
// Если задача уже выполняется, возвращает ErrRunning.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

// LastRun возвращает время последнего завершённого запуска задачи.
func (s *Scheduler) LastRun(name string) (time.Time, bool) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok || j.lastRun.Load() == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, j.lastRun.Load()), true
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	if !j.running.CompareAndSwap(false, true) {
		runsTotal.WithLabelValues(j.name, "skipped").Inc()
		s.logger.Debug("Задача ещё выполняется, запуск пропущен", slog.String("job", j.name))
		return ErrRunning
	}
	defer j.running.Store(false)

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("паника в задаче: %v", r)
			}
		}()
		return j.fn(ctx)
	}()
	j.lastRun.Store(time.Now().UnixNano())

	if err != nil {
		runsTotal.WithLabelValues(j.name, "error").Inc()
		s.logger.Error("Задача планировщика завершилась с ошибкой",
			slog.String("job", j.name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return err
	}
	runsTotal.WithLabelValues(j.name, "ok").Inc()
	s.logger.Debug("Задача планировщика выполнена",
		slog.String("job", j.name),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
