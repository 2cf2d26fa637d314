package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// lane serializes the tasks of one agent type behind its own priority queue.
// At most `workers` tasks of the type execute at once.
type lane struct {
	agentType string
	queue     *PriorityQueue
	sem       *semaphore.Weighted
}

// lane returns the lane of agentType, starting it on first use
func (o *Orchestrator) lane(ctx context.Context, g *errgroup.Group, agentType string) *lane {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, ok := o.lanes[agentType]; ok {
		return l
	}
	l := &lane{
		agentType: agentType,
		queue:     NewPriorityQueue(0),
		sem:       semaphore.NewWeighted(int64(o.workers)),
	}
	o.lanes[agentType] = l
	g.Go(func() error { return o.runLane(ctx, g, l) })
	return l
}

// laneForTaskLocked finds the lane a task type routes to. Callers hold o.mu.
func (o *Orchestrator) laneForTaskLocked(taskType string) *lane {
	def, ok := o.registry.Catalog().Resolve(taskType)
	if !ok {
		return nil
	}
	return o.lanes[def.Type]
}

func (o *Orchestrator) runLane(ctx context.Context, g *errgroup.Group, l *lane) error {
	for {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		t, err := l.queue.Dequeue(ctx)
		if err != nil {
			l.sem.Release(1)
			return nil
		}
		e := o.entry(t.ID)
		if e == nil {
			l.sem.Release(1)
			continue
		}
		g.Go(func() error {
			defer l.sem.Release(1)
			o.execute(ctx, l.agentType, e)
			return nil
		})
	}
}
