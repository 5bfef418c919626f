package simbridge

import (
	"context"
	"fmt"
	"log/slog"

	bridgeerrors "github.com/wolflab/simbridge-go/internal/errors"
	"github.com/wolflab/simbridge-go/internal/kernel"
	"github.com/wolflab/simbridge-go/internal/recording"
)

// Observation is one agent's observation vector.
type Observation []float64

// ObserveFunc computes the per-agent observations from the kernel state.
type ObserveFunc func(k *kernel.Kernel) map[int]Observation

// RewardFunc computes the per-agent rewards from the kernel state.
type RewardFunc func(k *kernel.Kernel) map[int]float64

// ApplyFunc translates per-agent actions into simulator commands.
type ApplyFunc func(ctx context.Context, k *kernel.Kernel, actions map[int]int) error

// EnvConfig parameterizes a MultiEnv episode.
type EnvConfig struct {
	// Warmup is the number of steps taken during Reset before control
	// starts.
	Warmup int
	// Horizon is the number of Step calls per episode; the episode ends
	// after Warmup+Horizon simulation rounds.
	Horizon int
	// SimsPerStep is how many simulator steps one environment step
	// spans. Values below 1 mean 1.
	SimsPerStep int

	Observe ObserveFunc
	Reward  RewardFunc
	Apply   ApplyFunc

	// Recorder, when set, stores per-step transitions and episode
	// summaries.
	Recorder recording.Recorder
}

// StepResult is the outcome of one environment step.
type StepResult struct {
	Obs     map[int]Observation
	Rewards map[int]float64
	// Dones flags agents that finished during this step (their vehicle
	// arrived).
	Dones map[int]bool
	// Done reports the end of the whole episode: the horizon was
	// reached.
	Done bool
	// Infos carries per-agent diagnostics, empty by default.
	Infos map[int]map[string]any
}

// MultiEnv is a multi-agent gym-style environment over one bridge
// client. Reset starts an episode, Step advances it; the caller supplies
// the observation, reward and action semantics through EnvConfig.
type MultiEnv struct {
	log    *slog.Logger
	client Client
	cfg    EnvConfig

	episodeLog *recording.EpisodeLog
	steps      int
	closed     bool
}

// NewMultiEnv builds an environment over a started client.
func NewMultiEnv(log *slog.Logger, client Client, cfg EnvConfig) (*MultiEnv, error) {
	if cfg.Observe == nil || cfg.Reward == nil || cfg.Apply == nil {
		return nil, fmt.Errorf("env config needs Observe, Reward and Apply")
	}

	if cfg.SimsPerStep < 1 {
		cfg.SimsPerStep = 1
	}

	e := &MultiEnv{
		log:    log.With("component", "env"),
		client: client,
		cfg:    cfg,
	}

	if cfg.Recorder != nil {
		episodeLog, err := recording.NewEpisodeLog(cfg.Recorder)
		if err != nil {
			return nil, err
		}

		e.episodeLog = episodeLog
	}

	return e, nil
}

// Reset rewinds the simulator, refreshes the kernels, runs the warmup
// steps and returns the initial observations.
func (e *MultiEnv) Reset(ctx context.Context) (map[int]Observation, error) {
	if e.closed {
		return nil, bridgeerrors.ErrEnvClosed
	}

	if err := e.client.ResetSimulation(ctx); err != nil {
		return nil, err
	}

	k := e.client.Kernel()
	if err := k.Update(ctx, true); err != nil {
		return nil, err
	}

	for i := 0; i < e.cfg.Warmup; i++ {
		if err := e.advance(ctx, k); err != nil {
			return nil, err
		}
	}

	e.steps = 0

	if e.episodeLog != nil {
		episode := e.episodeLog.StartEpisode()
		e.log.Info("Episode started", "episode", episode, "warmup", e.cfg.Warmup)
	}

	return e.cfg.Observe(k), nil
}

// Step applies the actions, advances the simulator SimsPerStep times and
// returns the new observations, rewards and done flags.
func (e *MultiEnv) Step(ctx context.Context, actions map[int]int) (StepResult, error) {
	if e.closed {
		return StepResult{}, bridgeerrors.ErrEnvClosed
	}

	k := e.client.Kernel()

	if err := e.cfg.Apply(ctx, k, actions); err != nil {
		return StepResult{}, err
	}

	arrived := make(map[int]bool)

	for i := 0; i < e.cfg.SimsPerStep; i++ {
		if err := e.advance(ctx, k); err != nil {
			return StepResult{}, err
		}

		for _, id := range k.Vehicle.Arrived() {
			arrived[id] = true
		}
	}

	e.steps++

	result := StepResult{
		Obs:     e.cfg.Observe(k),
		Rewards: e.cfg.Reward(k),
		Dones:   make(map[int]bool),
		Done:    e.steps >= e.cfg.Horizon,
		Infos:   make(map[int]map[string]any),
	}

	for agent := range result.Rewards {
		result.Dones[agent] = arrived[agent]
		result.Infos[agent] = map[string]any{}
	}

	for agent := range arrived {
		result.Dones[agent] = true
	}

	if e.episodeLog != nil {
		if err := e.episodeLog.RecordStep(actions, result.Rewards, k.Vehicle.Speeds(), result.Dones); err != nil {
			return StepResult{}, err
		}

		if result.Done {
			if err := e.episodeLog.CloseEpisode(); err != nil {
				return StepResult{}, err
			}
		}
	}

	return result, nil
}

// advance runs one simulator step and refreshes the kernels.
func (e *MultiEnv) advance(ctx context.Context, k *kernel.Kernel) error {
	if err := k.Simulation.Step(ctx); err != nil {
		return err
	}

	return k.Update(ctx, false)
}

// Steps returns the number of environment steps taken this episode.
func (e *MultiEnv) Steps() int {
	return e.steps
}

// Close finishes any open episode recording. The client stays open.
func (e *MultiEnv) Close() error {
	if e.closed {
		return nil
	}

	e.closed = true

	if e.episodeLog != nil {
		return e.episodeLog.CloseEpisode()
	}

	return nil
}
