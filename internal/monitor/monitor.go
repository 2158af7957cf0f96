package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/OCAP2/pdfzones/internal/session"
)

// StatusSource provides the session status.
type StatusSource interface {
	Status() session.Status
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Session StatusSource
	Logger  *slog.Logger
	// Dropped returns the number of outbound bridge messages dropped, if known.
	Dropped  func() int
	Dir      string
	File     string
	Interval time.Duration
	Now      func() time.Time
}

// Report is the content of the status file.
type Report struct {
	Time time.Time `json:"time"`
	session.Status
	LastBakeSizeHuman     string `json:"lastBakeSizeHuman"`
	CachedImageBytesHuman string `json:"cachedImageBytesHuman"`
	BridgeDropped         int    `json:"bridgeDropped"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	if deps.File == "" {
		deps.File = "status.json"
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// Path returns where the status file is written.
func (s *Service) Path() string {
	return filepath.Join(s.deps.Dir, s.deps.File)
}

// GetStatus returns the current report.
func (s *Service) GetStatus() Report {
	st := s.deps.Session.Status()
	r := Report{
		Time:                  s.deps.Now(),
		Status:                st,
		LastBakeSizeHuman:     humanize.Bytes(uint64(st.LastBakeSize)),
		CachedImageBytesHuman: humanize.Bytes(uint64(st.CachedImageBytes)),
	}
	if s.deps.Dropped != nil {
		r.BridgeDropped = s.deps.Dropped()
	}
	return r
}

// WriteStatus replaces the status file with the current report.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := os.WriteFile(s.Path(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Dir != "" {
		if err := os.MkdirAll(s.deps.Dir, 0o755); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("creating status directory: %w", err)
		}
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "path", s.Path(), "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
