package lifecycle

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Step 拆除步骤
type Step struct {
	Name string
	Fn   func() error
}

// Teardown 有序拆除序列
//
// 步骤按添加顺序执行；某一步失败不会中断后续步骤，
// 所有错误合并后返回。Run 只执行一次，之后的调用返回 nil。
type Teardown struct {
	mu    sync.Mutex
	steps []Step
	ran   bool
}

// Add 追加步骤，fn 为 nil 时忽略
func (t *Teardown) Add(name string, fn func() error) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, Step{Name: name, Fn: fn})
}

// AddFunc 追加不返回错误的步骤
func (t *Teardown) AddFunc(name string, fn func()) {
	if fn == nil {
		return
	}
	t.Add(name, func() error {
		fn()
		return nil
	})
}

// Names 返回步骤名，按执行顺序
func (t *Teardown) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, len(t.steps))
	for i, s := range t.steps {
		names[i] = s.Name
	}
	return names
}

// Run 依次执行全部步骤
func (t *Teardown) Run() error {
	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return nil
	}
	t.ran = true
	steps := t.steps
	t.mu.Unlock()

	var errs error
	for _, s := range steps {
		if err := runStep(s); err != nil {
			logger.Warn("拆除步骤失败", "step", s.Name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		logger.Debug("拆除步骤完成", "step", s.Name)
	}
	return errs
}

func runStep(s Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Fn()
}
