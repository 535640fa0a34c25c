package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownStrategy is returned for a strategy id no runner was built for.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Supervisor owns the runners of every selected strategy and keeps each loop alive until
// the root context ends. A stopped runner idles until Start is called.
type Supervisor struct {
	runners map[string]*Runner
	order   []string
	logger  *logrus.Entry
}

// NewSupervisor groups runners by strategy id. Duplicate ids are an error.
func NewSupervisor(logger *logrus.Entry, runners ...*Runner) (*Supervisor, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Supervisor{runners: make(map[string]*Runner, len(runners)), logger: logger}
	for _, r := range runners {
		if _, dup := s.runners[r.ID()]; dup {
			return nil, fmt.Errorf("duplicate strategy %q", r.ID())
		}
		s.runners[r.ID()] = r
		s.order = append(s.order, r.ID())
	}
	sort.Strings(s.order)
	return s, nil
}

// Run drives every runner concurrently and returns once ctx ends and all loops exited.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.order {
		r := s.runners[id]
		g.Go(func() error {
			return s.supervise(ctx, r)
		})
	}
	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, r *Runner) error {
	for {
		if err := r.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			return fmt.Errorf("strategy %s: %w", r.ID(), err)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.WithField("strategy", r.ID()).Info("runner paused, waiting for start")
		select {
		case <-ctx.Done():
			return nil
		case <-r.started():
		}
	}
}

// Runner returns the runner for id.
func (s *Supervisor) Runner(id string) (*Runner, error) {
	r, ok := s.runners[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	return r, nil
}

// IDs lists strategy ids in sorted order.
func (s *Supervisor) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Views snapshots every runner.
func (s *Supervisor) Views() []View {
	out := make([]View, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runners[id].View())
	}
	return out
}

// View snapshots one runner.
func (s *Supervisor) View(id string) (View, error) {
	r, err := s.Runner(id)
	if err != nil {
		return View{}, err
	}
	return r.View(), nil
}

// Start resumes a stopped runner.
func (s *Supervisor) Start(id string) error {
	r, err := s.Runner(id)
	if err != nil {
		return err
	}
	return r.Start()
}

// Stop pauses a runner, optionally force closing its position.
func (s *Supervisor) Stop(ctx context.Context, id string, force bool) error {
	r, err := s.Runner(id)
	if err != nil {
		return err
	}
	return r.Stop(ctx, force)
}

// StopAll pauses every runner. With force, every open position is closed; errors are joined.
func (s *Supervisor) StopAll(ctx context.Context, force bool) error {
	var errs []error
	for _, id := range s.order {
		if err := s.runners[id].Stop(ctx, force); err != nil {
			errs = append(errs, fmt.Errorf("strategy %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// UpdateSession refreshes the shared gateway session once and re-enables entries on every
// runner.
func (s *Supervisor) UpdateSession(ctx context.Context, token string) error {
	if len(s.order) == 0 {
		return errors.New("no strategies configured")
	}
	first := s.runners[s.order[0]]
	if err := RefreshSession(ctx, first.gw, token); err != nil {
		return err
	}
	for _, id := range s.order {
		s.runners[id].SessionRestored()
	}
	s.logger.Info("gateway session updated")
	return nil
}
