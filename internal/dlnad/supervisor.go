package dlnad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ModuleRunner is one long-running part of the daemon.
type ModuleRunner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs modules together. The first module to fail stops the rest
// and its error is returned once every module has returned.
type Supervisor struct {
	Logger *zap.Logger
}

// Run blocks until ctx is done or a module fails.
func (s Supervisor) Run(ctx context.Context, modules []ModuleRunner) error {
	if len(modules) == 0 {
		return errors.New("no modules enabled")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range modules {
		m := m
		g.Go(func() error {
			log := logger.With(zap.String("module", m.Name))
			started := time.Now()
			log.Info("module starting")
			if err := m.Run(gctx); err != nil {
				log.Error("module failed", zap.Duration("uptime", time.Since(started)), zap.Error(err))
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			log.Info("module stopped", zap.Duration("uptime", time.Since(started)))
			return nil
		})
	}

	go func() {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown requested")
		}
	}()
	return g.Wait()
}
