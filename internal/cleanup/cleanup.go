package cleanup

import (
	"sync"

	"go.uber.org/zap"
)

// Func is a single cleanup step.
type Func func() error

// Manager runs registered cleanup steps in reverse order, once.
type Manager struct {
	mu     sync.Mutex
	funcs  []Func
	err    error // first error encountered
	logger *zap.Logger
	once   sync.Once
}

// NewManager creates a cleanup manager. A nil logger discards output.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Add pushes f onto the cleanup stack. nil is ignored.
func (cm *Manager) Add(f Func) {
	if f == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.funcs = append(cm.funcs, f)
}

// Execute runs every step in LIFO order and returns the first error. Later
// calls return the same result without running anything.
func (cm *Manager) Execute() error {
	cm.once.Do(func() {
		cm.mu.Lock()
		defer cm.mu.Unlock()

		cm.logger.Debug("Starting cleanup", zap.Int("steps", len(cm.funcs)))
		for i := len(cm.funcs) - 1; i >= 0; i-- {
			if err := cm.funcs[i](); err != nil {
				if cm.err == nil {
					cm.err = err
					cm.logger.Error("Cleanup error encountered", zap.Error(err))
				} else {
					cm.logger.Error("Additional cleanup error", zap.Error(err))
				}
			}
		}
		cm.funcs = nil
		cm.logger.Debug("Cleanup finished")
	})
	return cm.err
}
