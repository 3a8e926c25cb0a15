// Package scheduler launches crawls on cron schedules declared in
// configuration.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/runner"
	"github.com/crawlops/crawlpilot/internal/seed"
)

// specParser accepts the standard five-field cron format plus @descriptors,
// no seconds field.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Entry declares one recurring crawl.
type Entry struct {
	// Spec is a five-field cron expression, e.g. "12 3 * * *".
	Spec string `mapstructure:"spec" yaml:"spec"`
	// ConfID names the remote configuration for launched crawls.
	ConfID string `mapstructure:"conf_id" yaml:"conf_id"`
	// SeedFile is a local seed list, loaded fresh at every trigger.
	SeedFile string `mapstructure:"seed_file" yaml:"seed_file"`
	// SeedName names the uploaded list. Empty derives a fingerprint name.
	SeedName string `mapstructure:"seed_name" yaml:"seed_name"`
	// URLDir references a server-side seed directory instead of a file.
	URLDir string `mapstructure:"url_dir" yaml:"url_dir"`
	// Rounds is the budget for each launched crawl.
	Rounds int `mapstructure:"rounds" yaml:"rounds"`
}

// Validate checks the cron spec and the seed source.
func (e Entry) Validate() error {
	if _, err := specParser.Parse(e.Spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", e.Spec, err)
	}
	if e.SeedFile == "" && e.URLDir == "" {
		return errors.New("schedule needs a seed file or a url directory")
	}
	if e.SeedFile != "" && e.URLDir != "" {
		return errors.New("schedule cannot name both a seed file and a url directory")
	}
	return nil
}

// Launcher admits crawl submissions. The runner implements it.
type Launcher interface {
	Launch(req runner.Request) (string, error)
}

// Scheduler triggers crawls on cron schedules. Start and Stop bracket the
// triggering; submissions themselves run on the runner's goroutines.
type Scheduler struct {
	cron     *cron.Cron
	launcher Launcher
	logger   *zap.Logger
}

// New wires entries into a cron runner. Any invalid entry fails
// construction.
func New(launcher Launcher, entries []Entry, logger *zap.Logger) (*Scheduler, error) {
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithParser(specParser)),
		launcher: launcher,
		logger:   logger,
	}
	for i, entry := range entries {
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if _, err := s.cron.AddFunc(entry.Spec, func() { s.fire(entry) }); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
	}
	return s, nil
}

// Start begins triggering entries.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("schedules", len(s.cron.Entries())))
}

// Stop halts triggering and waits for in-flight trigger callbacks to
// return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// fire loads the entry's seed source and submits one crawl.
func (s *Scheduler) fire(entry Entry) {
	req := runner.Request{
		ConfID: entry.ConfID,
		Rounds: entry.Rounds,
		URLDir: entry.URLDir,
		Source: "scheduler",
	}
	if entry.SeedFile != "" {
		urls, err := seed.Load(entry.SeedFile)
		if err != nil {
			s.logger.Error("scheduled crawl seed load failed",
				zap.String("seed_file", entry.SeedFile),
				zap.String("conf_id", entry.ConfID),
				zap.Error(err),
			)
			return
		}
		req.Seed = &seed.List{Name: entry.SeedName, URLs: urls}
	}
	id, err := s.launcher.Launch(req)
	if err != nil {
		s.logger.Error("scheduled crawl launch failed",
			zap.String("conf_id", entry.ConfID),
			zap.String("spec", entry.Spec),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("scheduled crawl launched",
		zap.String("crawl_id", id),
		zap.String("conf_id", entry.ConfID),
		zap.String("spec", entry.Spec),
	)
}
