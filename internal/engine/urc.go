package engine

import (
	"context"
	"fmt"

	"github.com/ethpandaops/atrunner/internal/bus"
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/ethpandaops/atrunner/internal/urc"
	"github.com/sirupsen/logrus"
)

// RegisterTriggers hands the document's URC triggers to the matcher.
func (o *Orchestrator) RegisterTriggers(triggers []*testcase.Trigger) error {
	if o.matcher == nil {
		return nil
	}

	for _, t := range triggers {
		if err := o.matcher.RegisterTrigger(t); err != nil {
			return fmt.Errorf("registering trigger %s: %w", t.ID, err)
		}
	}

	return nil
}

// handleFiring runs a trigger's actions against the firing run's context.
// Action sends queue behind any open capture window on the channel.
func (o *Orchestrator) handleFiring(ctx context.Context, f urc.Firing) error {
	log := o.log.WithFields(logrus.Fields{
		"trigger": f.Trigger.ID,
		"channel": f.Channel,
	})

	log.WithField("actions", len(f.Trigger.Actions)).Debug("running urc actions")

	for i, action := range f.Trigger.Actions {
		cmd := *action
		out := o.runner.Run(ctx, f.Channel, &cmd, f.Context)

		if out.Fatal() {
			return fmt.Errorf("action %d: %w", i, out.Err)
		}

		if !out.Success {
			log.WithError(out.Err).WithField("action", out.Resolved).Warn("urc action failed")
			o.publish(bus.KindWarn, "", fmt.Sprintf("URC %s action %q failed: %v", f.Trigger.ID, out.Resolved, out.Err))
		}
	}

	return nil
}
