package targetgroup

import (
	"context"
	"sync"
	"time"

	"github.com/steelcutops/steelpoll/steelpoll/config"
	"github.com/steelcutops/steelpoll/steelpoll/poller"
)

// Report pairs a target with the outcome of polling it.
type Report struct {
	Target   config.Target
	Result   poller.Result
	Started  time.Time
	Duration time.Duration
}

type TargetGroup struct {
	sync.RWMutex
	order   []string
	Targets map[string]config.Target
}

// NewTargetGroup creates a new TargetGroup with the given targets.
func NewTargetGroup(targets ...config.Target) *TargetGroup {
	tg := &TargetGroup{Targets: make(map[string]config.Target)}
	for _, t := range targets {
		tg.AddTarget(t)
	}
	return tg
}

// AddTarget adds or replaces a target, keyed by its name.
func (tg *TargetGroup) AddTarget(t config.Target) {
	tg.Lock()
	defer tg.Unlock()
	if _, exists := tg.Targets[t.Name]; !exists {
		tg.order = append(tg.order, t.Name)
	}
	tg.Targets[t.Name] = t
}

// RemoveTarget removes a target from the TargetGroup by its name.
func (tg *TargetGroup) RemoveTarget(name string) {
	tg.Lock()
	defer tg.Unlock()
	if _, exists := tg.Targets[name]; !exists {
		return
	}
	delete(tg.Targets, name)
	for i, n := range tg.order {
		if n == name {
			tg.order = append(tg.order[:i], tg.order[i+1:]...)
			break
		}
	}
}

// HasTarget checks if a target with the given name exists in the TargetGroup.
func (tg *TargetGroup) HasTarget(name string) bool {
	tg.RLock()
	defer tg.RUnlock()
	_, exists := tg.Targets[name]
	return exists
}

// List returns the targets in insertion order.
func (tg *TargetGroup) List() []config.Target {
	tg.RLock()
	defer tg.RUnlock()
	targets := make([]config.Target, 0, len(tg.order))
	for _, name := range tg.order {
		targets = append(targets, tg.Targets[name])
	}
	return targets
}

// Poll polls every target one after another. Targets left when ctx is
// done are still reported, each with the poller's failure for a done
// context.
func (tg *TargetGroup) Poll(ctx context.Context, p poller.Poller) []Report {
	targets := tg.List()
	reports := make([]Report, 0, len(targets))

	for _, t := range targets {
		start := time.Now()
		res := p.Poll(ctx, t.Input())
		reports = append(reports, Report{
			Target:   t,
			Result:   res,
			Started:  start,
			Duration: time.Since(start),
		})
	}

	return reports
}
