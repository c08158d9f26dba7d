// Package metrics collects per-command and per-run execution metrics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CommandMetric captures one executed command.
type CommandMetric struct {
	RunID        string
	CaseID       string
	Command      string
	Success      bool
	Kind         string
	Attempts     int
	ResponseTime time.Duration
	Timestamp    time.Time
}

// RunMetric captures one finished (or paused) top-level run.
type RunMetric struct {
	RunID     string
	CaseID    string
	Status    string
	Passed    int
	Failed    int
	Warnings  int
	Errors    int
	Paused    bool
	Duration  time.Duration
	Timestamp time.Time
}

// SummaryMetric aggregates everything recorded since Start.
type SummaryMetric struct {
	TotalDuration    time.Duration
	TotalRuns        int
	SuccessfulRuns   int
	FailedRuns       int
	PausedRuns       int
	TotalCommands    int
	PassedCommands   int
	FailedCommands   int
	Retries          int
	PassRate         float64 // percentage
	MeanResponseTime time.Duration
}

// Collector records execution metrics.
type Collector interface {
	Start(ctx context.Context) error
	Stop() error
	RecordCommand(metric CommandMetric)
	RecordRun(metric RunMetric)
	GetCommandMetrics() []CommandMetric
	GetRunMetrics() []RunMetric
	GetSummary() SummaryMetric
}

type collector struct {
	log       logrus.FieldLogger
	mu        sync.RWMutex
	commands  []CommandMetric
	runs      []RunMetric
	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(log logrus.FieldLogger) Collector {
	return &collector{
		log:       log.WithField("component", "metrics_collector"),
		commands:  make([]CommandMetric, 0, 128),
		runs:      make([]RunMetric, 0, 8),
		startTime: time.Now(),
	}
}

func (c *collector) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()

	c.log.Debug("metrics collector started")

	return nil
}

func (c *collector) Stop() error {
	c.log.Debug("metrics collector stopped")

	return nil
}

func (c *collector) RecordCommand(metric CommandMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, metric)
}

func (c *collector) RecordRun(metric RunMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, metric)
}

func (c *collector) GetCommandMetrics() []CommandMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]CommandMetric, len(c.commands))
	copy(result, c.commands)

	return result
}

func (c *collector) GetRunMetrics() []RunMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]RunMetric, len(c.runs))
	copy(result, c.runs)

	return result
}

func (c *collector) GetSummary() SummaryMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := SummaryMetric{
		TotalDuration: time.Since(c.startTime),
		TotalRuns:     len(c.runs),
		TotalCommands: len(c.commands),
	}

	for _, rm := range c.runs {
		switch {
		case rm.Paused:
			summary.PausedRuns++
		case rm.Failed == 0 && rm.Errors == 0:
			summary.SuccessfulRuns++
		default:
			summary.FailedRuns++
		}
	}

	var totalResponse time.Duration
	for _, cm := range c.commands {
		if cm.Success {
			summary.PassedCommands++
		} else {
			summary.FailedCommands++
		}

		if cm.Attempts > 1 {
			summary.Retries += cm.Attempts - 1
		}

		totalResponse += cm.ResponseTime
	}

	if summary.TotalCommands > 0 {
		summary.PassRate = float64(summary.PassedCommands) / float64(summary.TotalCommands) * 100.0
		summary.MeanResponseTime = totalResponse / time.Duration(summary.TotalCommands)
	}

	return summary
}

var _ Collector = (*collector)(nil)
