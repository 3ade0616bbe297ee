package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpequegn/nextrun/internal/events"
)

// osSignalSource is the production events.ShutdownSource: it relays
// SIGINT/SIGTERM/SIGHUP into the dispatcher's cancellation state machine.
// Raw process-group signal propagation to children is out of scope (that
// is procrunner/supervisor's job, not this source's).
type osSignalSource struct {
	ch chan os.Signal
}

func newOSSignalSource() *osSignalSource {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	return &osSignalSource{ch: ch}
}

func (s *osSignalSource) Recv(ctx context.Context) (events.ShutdownEvent, error) {
	select {
	case sig := <-s.ch:
		return events.ShutdownEvent{Kind: shutdownKindFor(sig)}, nil
	case <-ctx.Done():
		return events.ShutdownEvent{}, ctx.Err()
	}
}

func (s *osSignalSource) stop() {
	signal.Stop(s.ch)
}

func shutdownKindFor(sig os.Signal) events.ShutdownKind {
	switch sig {
	case syscall.SIGTERM:
		return events.Term
	case syscall.SIGHUP:
		return events.Hangup
	default:
		return events.Interrupt
	}
}
