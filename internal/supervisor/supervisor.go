// FILE: supervisor.go
// Package supervisor implements the Strategy Supervisor (spec.md §4.9): the
// process-wide map from instance key to running executor, start/stop/
// status control-plane operations, per-instance heartbeat tasks, and the
// startup auto-resume sweep.
//
// The map is the only process-wide mutable shared state (spec.md §9); it is
// guarded by a mutex that is never held across broker or journal I/O —
// handlers take a reference out under the lock and release before calling
// into it, the same discipline the teacher's Trader keeps around its own
// t.mu in step.go.
package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/journal"
	"github.com/razorcore/execution-core/internal/metrics"
	"github.com/razorcore/execution-core/internal/razor"
	"github.com/razorcore/execution-core/internal/xerrors"
)

// heartbeatInterval is the supervisor's per-instance liveness update
// period (spec.md §4.9, §5).
const heartbeatInterval = 30 * time.Second

// BrokerFactory constructs (or looks up) a connected broker.Broker for a
// user's credentials. The supervisor never knows how a broker connection
// is established — only that one exists or doesn't (spec.md §6's adapter
// is out-of-core; this is the seam the real auth/connection-pool layer
// plugs into).
type BrokerFactory func(ctx context.Context, userID string, brokerName domain.Broker, env domain.Environment) (broker.Broker, error)

// instance bundles a running executor with its cancellable heartbeat task.
type instance struct {
	executor *razor.Executor
	cancel   context.CancelFunc
	tickCh   chan float64
	done     chan struct{}
}

// Supervisor owns the key -> executor map.
type Supervisor struct {
	mu        sync.Mutex
	instances map[domain.InstanceKey]*instance

	journal    *journal.Journal
	newBroker  BrokerFactory
	log        zerolog.Logger
}

// New constructs a Supervisor. newBroker is consulted by both Start and
// the auto-resume sweep.
func New(j *journal.Journal, newBroker BrokerFactory, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		instances: make(map[domain.InstanceKey]*instance),
		journal:   j,
		newBroker: newBroker,
		log:       log,
	}
}

// StartRequest carries the control-plane "start" verb's body (spec.md §6).
type StartRequest struct {
	Key    domain.InstanceKey
	Config domain.StrategyConfig
}

// Start validates the key isn't already running, constructs and
// initializes an executor, persists an active status row, and starts its
// tick-consumer and heartbeat tasks (spec.md §4.9).
func (s *Supervisor) Start(ctx context.Context, req StartRequest) error {
	s.mu.Lock()
	if _, exists := s.instances[req.Key]; exists {
		s.mu.Unlock()
		return xerrors.New(xerrors.KindValidation, xerrors.CodeAlreadyRunning, "strategy already running for this key")
	}
	s.mu.Unlock()

	b, err := s.newBroker(ctx, req.Key.UserID, req.Key.Broker, req.Key.Environment)
	if err != nil {
		return xerrors.Wrap(xerrors.KindValidation, xerrors.CodeNotConnected, "no broker connection for user", err)
	}

	exec := razor.New(req.Key, req.Config, b, s.journal, s.log)
	if err := exec.Initialize(); err != nil {
		return xerrors.Wrap(xerrors.KindUnrecoverable, "", "executor initialize failed", err)
	}

	if err := s.journal.UpsertStatus(ctx, domain.StatusRow{
		Key: req.Key, Status: domain.StatusActive, LastAction: domain.ActionManualStart,
		ConfigJSON: s.marshalConfig(req.Config), AutoReconnect: true,
	}); err != nil {
		s.log.Error().Err(err).Msg("status row write failed on start; executor is live regardless")
	}

	s.registerAndRun(req.Key, exec)
	return nil
}

// registerAndRun inserts inst into the map and launches its tick-consumer
// and heartbeat goroutines. Must be called without s.mu held (it takes the
// lock itself only for the pointer move, never across I/O — spec.md §9).
func (s *Supervisor) registerAndRun(key domain.InstanceKey, exec *razor.Executor) {
	runCtx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		executor: exec,
		cancel:   cancel,
		tickCh:   make(chan float64, 64), // bounded; drop-oldest on overflow (spec.md §9)
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.instances[key] = inst
	s.mu.Unlock()

	go s.runTickConsumer(runCtx, key, inst)
	go s.runHeartbeat(runCtx, key, inst)
}

// Dispatch routes a tick to the executor for key, if one is running. A
// full tick channel drops the oldest buffered tick rather than
// back-pressuring the broker's ticker pump (spec.md §9).
func (s *Supervisor) Dispatch(key domain.InstanceKey, price float64) {
	s.mu.Lock()
	inst, ok := s.instances[key]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case inst.tickCh <- price:
	default:
		select {
		case <-inst.tickCh:
		default:
		}
		select {
		case inst.tickCh <- price:
		default:
		}
	}
}

func (s *Supervisor) runTickConsumer(ctx context.Context, key domain.InstanceKey, inst *instance) {
	defer close(inst.done)
	for {
		select {
		case <-ctx.Done():
			return
		case price, ok := <-inst.tickCh:
			if !ok {
				return
			}
			inst.executor.OnTicker(price)
		}
	}
}

func (s *Supervisor) runHeartbeat(ctx context.Context, key domain.InstanceKey, inst *instance) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, broker.DefaultCallTimeout)
			dailyTrades, dailyResetAt := inst.executor.DailyCounter()
			if err := s.journal.UpdateHeartbeat(hbCtx, key, dailyTrades, dailyResetAt); err != nil {
				s.log.Warn().Err(err).Str("user", key.UserID).Msg("heartbeat write failed")
				metrics.HeartbeatWriteFailures.Inc()
			}
			cancel()
		}
	}
}

// marshalConfig serialises cfg for persistence in a status row's
// ConfigJSON column (spec.md §3's "config (opaque blob)" contract). A
// marshal failure can only happen for a non-serialisable config, which
// StrategyConfig's all-plain-field shape never produces; falling back to
// "{}" keeps the write from failing outright if it somehow does.
func (s *Supervisor) marshalConfig(cfg domain.StrategyConfig) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		s.log.Error().Err(err).Msg("strategy config marshal failed; persisting empty config")
		return "{}"
	}
	return string(b)
}

// unmarshalConfig parses a persisted ConfigJSON blob over top of the
// default config, so a partial or empty ("{}") blob still yields sane
// values for any field it doesn't mention, rather than zeroing them out.
func (s *Supervisor) unmarshalConfig(configJSON string) domain.StrategyConfig {
	cfg := domain.DefaultStrategyConfig()
	if configJSON == "" {
		return cfg
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		s.log.Error().Err(err).Msg("persisted strategy config unmarshal failed; using defaults")
		return domain.DefaultStrategyConfig()
	}
	return cfg
}

// StopRequest carries the control-plane "stop" verb's body.
type StopRequest struct {
	Key domain.InstanceKey
}

// Stop cancels the executor's tasks, calls cleanup, removes it from the
// map, and marks the status row paused (spec.md §4.9).
func (s *Supervisor) Stop(ctx context.Context, req StopRequest) error {
	s.mu.Lock()
	inst, ok := s.instances[req.Key]
	if ok {
		delete(s.instances, req.Key)
	}
	s.mu.Unlock()

	if !ok {
		return xerrors.New(xerrors.KindValidation, xerrors.CodeNotRunning, "strategy is not running for this key")
	}

	inst.cancel()
	<-inst.done
	inst.executor.Cleanup()

	dailyTrades, dailyResetAt := inst.executor.DailyCounter()
	if err := s.journal.UpsertStatus(ctx, domain.StatusRow{
		Key: req.Key, Status: domain.StatusPaused, LastAction: domain.ActionManualStop,
		ConfigJSON: s.marshalConfig(inst.executor.Config()), AutoReconnect: true,
		DailyTrades: dailyTrades, DailyResetAt: dailyResetAt,
	}); err != nil {
		s.log.Error().Err(err).Msg("status row write failed on stop")
	}
	return nil
}

// Status returns the persisted status row for key, and whether one exists — a pure read
// from the status table (spec.md §4.9).
func (s *Supervisor) Status(ctx context.Context, key domain.InstanceKey) (domain.StatusRow, bool, error) {
	return s.journal.StatusFor(ctx, key)
}

// InitializeAutoResume implements spec.md §4.9's process-start sweep:
// re-instantiate executors for every status row marked active and
// autoReconnect, across the given broker/environment.
func (s *Supervisor) InitializeAutoResume(ctx context.Context, brokerName domain.Broker, env domain.Environment, knownStrategies map[string]bool) error {
	rows, err := s.journal.FindAllStrategiesToResume(ctx, brokerName, env)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.autoResumeOne(ctx, row, knownStrategies)
	}
	return nil
}

func (s *Supervisor) autoResumeOne(ctx context.Context, row domain.StatusRow, knownStrategies map[string]bool) {
	if knownStrategies != nil && !knownStrategies[row.Key.StrategyName] {
		s.markStatus(ctx, row, domain.StatusError, domain.ActionAutoResumeFailed, "unknown strategy name")
		return
	}

	b, err := s.newBroker(ctx, row.Key.UserID, row.Key.Broker, row.Key.Environment)
	if err != nil {
		s.markStatus(ctx, row, domain.StatusPaused, domain.ActionAutoResumeSkipped, "no broker connection")
		return
	}

	cfg := s.unmarshalConfig(row.ConfigJSON)
	exec := razor.New(row.Key, cfg, b, s.journal, s.log)
	exec.RestoreDailyCounter(row.DailyTrades, row.DailyResetAt)
	if err := exec.Initialize(); err != nil {
		s.markStatus(ctx, row, domain.StatusError, domain.ActionAutoResumeFailed, err.Error())
		return
	}

	s.registerAndRun(row.Key, exec)
	s.safeUpsertConnected(ctx, row.Key, row.ConfigJSON, row.DailyTrades, row.DailyResetAt)
}

func (s *Supervisor) safeUpsertConnected(ctx context.Context, key domain.InstanceKey, configJSON string, dailyTrades int, dailyResetAt time.Time) {
	now := time.Now()
	if err := s.journal.UpsertStatus(ctx, domain.StatusRow{
		Key: key, Status: domain.StatusActive, LastAction: domain.ActionAutoResume, ConfigJSON: configJSON,
		AutoReconnect: true, ConnectedAt: &now, LastHeartbeat: &now, ErrorCount: 0,
		DailyTrades: dailyTrades, DailyResetAt: dailyResetAt,
	}); err != nil {
		s.log.Error().Err(err).Msg("status row write failed after auto-resume")
	}
}

// markStatus records an auto-resume outcome for row.Key, preserving the
// row's previously persisted config and daily-trade counter rather than
// discarding them on a failed or skipped resume.
func (s *Supervisor) markStatus(ctx context.Context, row domain.StatusRow, state domain.StatusState, action domain.StatusAction, errMsg string) {
	if err := s.journal.UpsertStatus(ctx, domain.StatusRow{
		Key: row.Key, Status: state, LastAction: action, ConfigJSON: row.ConfigJSON, AutoReconnect: true,
		ErrorMessage: errMsg, DailyTrades: row.DailyTrades, DailyResetAt: row.DailyResetAt,
	}); err != nil {
		s.log.Error().Err(err).Msg("status row write failed")
	}
}

// Shutdown cancels every running executor's tasks, marks their status rows
// as disconnected while preserving autoReconnect=true so a future start
// resumes them, then clears the map (spec.md §4.9).
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make(map[domain.InstanceKey]*instance, len(s.instances))
	for k, v := range s.instances {
		all[k] = v
	}
	s.instances = make(map[domain.InstanceKey]*instance)
	s.mu.Unlock()

	for key, inst := range all {
		inst.cancel()
		<-inst.done
		inst.executor.Cleanup()
		dailyTrades, dailyResetAt := inst.executor.DailyCounter()
		if err := s.journal.UpsertStatus(ctx, domain.StatusRow{
			Key: key, Status: domain.StatusStopped, LastAction: domain.ActionManualStop,
			ConfigJSON: s.marshalConfig(inst.executor.Config()), AutoReconnect: true,
			DailyTrades: dailyTrades, DailyResetAt: dailyResetAt,
		}); err != nil {
			s.log.Error().Err(err).Msg("status row write failed on shutdown")
		}
	}
}

// Running reports whether key currently has a live executor — used by
// tests to avoid reaching into the map directly.
func (s *Supervisor) Running(key domain.InstanceKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[key]
	return ok
}
