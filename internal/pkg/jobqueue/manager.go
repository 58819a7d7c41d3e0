package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

const replayBatchSize = 500

// Manager runs the job queue together with the periodic replay of usage
// entries that were deferred to Redis.
type Manager struct {
	queue          *Queue
	pending        *usage.PendingBuffer
	ledger         usage.Ledger
	replayInterval time.Duration
	replayTicker   *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

// NewManager creates a manager. pending may be nil, in which case no replay
// worker runs.
func NewManager(queue *Queue, pending *usage.PendingBuffer, ledger usage.Ledger, replayInterval time.Duration) *Manager {
	if replayInterval <= 0 {
		replayInterval = 30 * time.Second
	}
	return &Manager{
		queue:          queue,
		pending:        pending,
		ledger:         ledger,
		replayInterval: replayInterval,
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.pending != nil {
		m.replayTicker = time.NewTicker(m.replayInterval)
		m.wg.Add(1)
		go m.replayWorker()
	}
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	if m.replayTicker != nil {
		m.replayTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) replayWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started usage replay worker (interval: %s)", m.replayInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Usage replay worker stopping")
			return
		case <-m.replayTicker.C:
			if _, err := m.ReplayPendingUsage(context.Background()); err != nil {
				log.Warnf("[JobQueue Manager] Usage replay stopped early: %v", err)
			}
		}
	}
}

// ReplayPendingUsage moves every deferred usage entry into the ledger and
// returns how many were written.
func (m *Manager) ReplayPendingUsage(ctx context.Context) (int, error) {
	if m.pending == nil {
		return 0, nil
	}
	total := 0
	for {
		moved, err := m.pending.Drain(ctx, m.ledger, replayBatchSize)
		total += moved
		if err != nil {
			return total, err
		}
		if moved < replayBatchSize {
			break
		}
	}
	if total > 0 {
		log.Infof("[JobQueue Manager] Replayed %d deferred usage entries", total)
	}
	return total, nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
