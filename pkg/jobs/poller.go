/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package jobs drives the device's long-running background jobs through a
// shared start/poll/terminate state machine. One poll loop per kind runs at
// a fixed interval until the device reports the job finished or a status
// request fails; poll failures are never retried, unlike channel
// reconnection which retries forever.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
)

var (
	// ErrJobAlreadyRunning rejects a start for a kind whose poll loop is
	// still active. The device runs at most one job per kind; starting a
	// second would duplicate polling and terminal events.
	ErrJobAlreadyRunning = errors.New("job already running")
	// ErrValidation covers malformed parameters, reported before any
	// device request is issued.
	ErrValidation = errors.New("invalid job parameters")
)

const defaultPollInterval = time.Second

// DeviceAPI is the slice of the device REST surface the poller needs. It is
// implemented by pkg/client and by test mocks.
type DeviceAPI interface {
	StartPortScan(ctx context.Context, host string, ports []int) error
	PortScanStatus(ctx context.Context) (models.PortScanStatus, error)
	StartMDNSScan(ctx context.Context, service, proto string) error
	MDNSStatus(ctx context.Context) (models.MDNSStatus, error)
	StartSSDPScan(ctx context.Context) error
	SSDPStatus(ctx context.Context) (models.SSDPStatus, error)
	StartDiscovery(ctx context.Context, subnet string, from, to int) error
	DiscoveryResults(ctx context.Context) (models.DiscoveryStatus, error)
}

// Events receives progress and terminal notifications. Nil callbacks are
// skipped. The terminal callback for a given start fires exactly once.
type Events struct {
	OnProgress func(kind models.JobKind, progress int)
	OnDone     func(status models.JobStatus)
	OnError    func(kind models.JobKind, err error)
}

// Poller owns the per-kind job state. Create one per device session.
type Poller struct {
	api      DeviceAPI
	events   Events
	clock    Clock
	interval time.Duration
	logger   logger.Logger

	mu     sync.Mutex
	active map[models.JobKind]*job
	states map[models.JobKind]models.JobState

	wg sync.WaitGroup
}

// job identifies one poll loop. The identity matters: state transitions are
// applied only by the loop that still owns its kind, so a loop abandoned by
// Stop cannot clobber a later run of the same kind.
type job struct {
	cancel context.CancelFunc
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock overrides the tick source, used by tests.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithInterval overrides the fixed poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// New creates a poller over the given device API.
func New(api DeviceAPI, events Events, log logger.Logger, opts ...Option) *Poller {
	p := &Poller{
		api:      api,
		events:   events,
		clock:    realClock{},
		interval: defaultPollInterval,
		logger:   log,
		active:   make(map[models.JobKind]*job),
		states:   make(map[models.JobKind]models.JobState),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// State reports the lifecycle state of a job kind.
func (p *Poller) State(kind models.JobKind) models.JobState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.states[kind]
}

// Stop abandons the poll loop for a kind. The device continues running the
// job; there is no device-side cancel here. Discovery is the one kind with
// a device stop endpoint, exposed separately on the REST client. The kind
// is released before Stop returns: an immediate restart does not collide
// with the abandoned loop, which drains in the background and fires no
// further events.
func (p *Poller) Stop(kind models.JobKind) {
	p.mu.Lock()
	j := p.active[kind]

	if j != nil {
		delete(p.active, kind)
		p.states[kind] = models.JobIdle
	}
	p.mu.Unlock()

	if j != nil {
		j.cancel()
	}
}

// Wait blocks until every active poll loop has exited. Used at shutdown.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// StartPortScan starts a targeted port scan and polls it to completion.
func (p *Poller) StartPortScan(ctx context.Context, host string, ports []int) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrValidation)
	}

	if len(ports) == 0 {
		return fmt.Errorf("%w: at least one port is required", ErrValidation)
	}

	for _, port := range ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrValidation, port)
		}
	}

	return p.start(ctx, models.JobPortScan,
		func(ctx context.Context) error { return p.api.StartPortScan(ctx, host, ports) },
		func(ctx context.Context) (models.JobStatus, error) {
			st, err := p.api.PortScanStatus(ctx)
			if err != nil {
				return models.JobStatus{}, err
			}

			return models.JobStatus{
				Kind:     models.JobPortScan,
				Running:  st.Running,
				Progress: st.Progress,
				PortScan: &st,
			}, nil
		})
}

// StartMDNSScan starts an mDNS browse. Empty service/proto fall back to the
// device defaults (_http/tcp).
func (p *Poller) StartMDNSScan(ctx context.Context, service, proto string) error {
	if proto != "" && proto != "tcp" && proto != "udp" {
		return fmt.Errorf("%w: proto must be tcp or udp", ErrValidation)
	}

	return p.start(ctx, models.JobMDNS,
		func(ctx context.Context) error { return p.api.StartMDNSScan(ctx, service, proto) },
		func(ctx context.Context) (models.JobStatus, error) {
			st, err := p.api.MDNSStatus(ctx)
			if err != nil {
				return models.JobStatus{}, err
			}

			return models.JobStatus{
				Kind:     models.JobMDNS,
				Running:  st.Running,
				Progress: -1,
				MDNS:     &st,
			}, nil
		})
}

// StartSSDPScan starts an SSDP M-SEARCH sweep.
func (p *Poller) StartSSDPScan(ctx context.Context) error {
	return p.start(ctx, models.JobSSDP,
		p.api.StartSSDPScan,
		func(ctx context.Context) (models.JobStatus, error) {
			st, err := p.api.SSDPStatus(ctx)
			if err != nil {
				return models.JobStatus{}, err
			}

			return models.JobStatus{
				Kind:     models.JobSSDP,
				Running:  st.Running,
				Progress: -1,
				SSDP:     &st,
			}, nil
		})
}

// StartDiscovery starts the subnet discovery sweep over host octets
// [from,to] of the given /24 subnet prefix (e.g. "192.168.1"). An empty
// subnet lets the device sweep its own network.
func (p *Poller) StartDiscovery(ctx context.Context, subnet string, from, to int) error {
	if from < 1 || to > 254 || from > to {
		return fmt.Errorf("%w: host range %d-%d", ErrValidation, from, to)
	}

	return p.start(ctx, models.JobDiscovery,
		func(ctx context.Context) error { return p.api.StartDiscovery(ctx, subnet, from, to) },
		func(ctx context.Context) (models.JobStatus, error) {
			st, err := p.api.DiscoveryResults(ctx)
			if err != nil {
				return models.JobStatus{}, err
			}

			return models.JobStatus{
				Kind:      models.JobDiscovery,
				Running:   st.Running,
				Progress:  st.Progress,
				Discovery: &st,
			}, nil
		})
}

type startFunc func(ctx context.Context) error

type pollFunc func(ctx context.Context) (models.JobStatus, error)

func (p *Poller) start(ctx context.Context, kind models.JobKind, begin startFunc, poll pollFunc) error {
	p.mu.Lock()

	if _, running := p.active[kind]; running {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyRunning, kind)
	}

	// Reserve the kind before the start request so a concurrent caller
	// cannot slip in while the request is in flight.
	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel}
	p.active[kind] = j
	p.states[kind] = models.JobRunning
	p.mu.Unlock()

	if err := begin(ctx); err != nil {
		p.finish(kind, j, models.JobIdle)

		return fmt.Errorf("start %s: %w", kind, err)
	}

	p.logger.Info().Str("job", string(kind)).Msg("Job started")

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.pollLoop(jobCtx, kind, j, poll)
	}()

	return nil
}

// pollLoop issues one status request per tick. The loop owns its ticker, so
// observing a terminal condition and stopping the interval is atomic with
// respect to other ticks: no further status request can be issued once a
// terminal event has been surfaced.
func (p *Poller) pollLoop(ctx context.Context, kind models.JobKind, j *job, poll pollFunc) {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Stopped observing. The device keeps running the job.
			p.finish(kind, j, models.JobIdle)
			return
		case <-ticker.Chan():
			status, err := poll(ctx)
			if err != nil {
				// A failed status request abandons the job: Idle is the
				// recoverable terminal state, and the failure surfaces
				// exactly once. No retry.
				if !p.finish(kind, j, models.JobIdle) {
					return
				}

				p.logger.Warn().Err(err).Str("job", string(kind)).Msg("Poll failed, job abandoned")

				if p.events.OnError != nil {
					p.events.OnError(kind, err)
				}

				return
			}

			if status.Running {
				if p.events.OnProgress != nil {
					p.events.OnProgress(kind, status.Progress)
				}

				continue
			}

			if !p.finish(kind, j, models.JobDone) {
				return
			}

			p.logger.Info().Str("job", string(kind)).Msg("Job finished")

			if p.events.OnDone != nil {
				p.events.OnDone(status)
			}

			return
		}
	}
}

// finish releases a kind on behalf of one loop. It reports whether that
// loop still owned the kind; a loop already released by Stop gets false
// and must not surface events or touch state.
func (p *Poller) finish(kind models.JobKind, j *job, state models.JobState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active[kind] != j {
		return false
	}

	delete(p.active, kind)
	p.states[kind] = state
	defer j.cancel()

	return true
}
