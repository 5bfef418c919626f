package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wolflab/simbridge-go"
	"github.com/wolflab/simbridge-go/internal/kernel"
	"github.com/wolflab/simbridge-go/internal/microsim"
	"github.com/wolflab/simbridge-go/internal/recording"
)

var (
	runListenAddr  string
	runMonitorAddr string
	runRecordPath  string
	runHorizon     int
	runWarmup      int
	runSimsPerStep int
	runVerbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play one control episode against the built-in microscopic simulation",
	Long: `Play one control episode against the built-in microscopic simulation. ` +
		`The controller listens for the simulation to attach, meters traffic ` +
		`lights with a fixed alternating policy and prints the episode return.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		if err := runEpisode(cmd.Context()); err != nil {
			log.Fatalf("Error: %v", err)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runListenAddr, "listen",
		envOr("SIMBRIDGE_LISTEN", "127.0.0.1:0"), "address the controller listens on")
	runCmd.Flags().StringVar(&runMonitorAddr, "monitor",
		os.Getenv("SIMBRIDGE_MONITOR"), "serve the HTTP status endpoint on this address")
	runCmd.Flags().StringVar(&runRecordPath, "record", "",
		"record transitions to this SQLite file")
	runCmd.Flags().IntVar(&runHorizon, "horizon", 200, "control steps per episode")
	runCmd.Flags().IntVar(&runWarmup, "warmup", 20, "simulation steps before control starts")
	runCmd.Flags().IntVar(&runSimsPerStep, "sims-per-step", 1, "simulation steps per control step")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "log bridge traffic to stderr")

	rootCmd.AddCommand(runCmd)
}

func runEpisode(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := simbridge.NopLogger()
	if runVerbose {
		logger = simbridge.StderrLogger(slog.LevelDebug)
	}

	sim := microsim.New(logger, []float64{200, 200, 200}, 2,
		microsim.WithInflow(1, 10, 3))

	client := simbridge.NewClient()

	opts := []simbridge.Option{
		simbridge.WithLogger(logger),
		simbridge.WithListenAddr(runListenAddr),
	}
	if runMonitorAddr != "" {
		opts = append(opts, simbridge.WithMonitorAddr(runMonitorAddr))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr, err := awaitAddr(gctx, client)
		if err != nil {
			return err
		}

		return microsim.Run(gctx, logger, sim, addr)
	})

	if err := client.Start(gctx, opts...); err != nil {
		cancel()
		_ = g.Wait()

		return err
	}

	cfg := simbridge.EnvConfig{
		Warmup:      runWarmup,
		Horizon:     runHorizon,
		SimsPerStep: runSimsPerStep,
		Observe:     observeLights,
		Reward:      rewardMeanSpeed,
		Apply:       applyLightPhases,
	}

	if runRecordPath != "" {
		rec, err := recording.New(logger, runRecordPath)
		if err != nil {
			_ = client.Close(ctx)

			return err
		}
		defer rec.Close()

		cfg.Recorder = rec
	}

	env, err := simbridge.NewMultiEnv(logger, client, cfg)
	if err != nil {
		_ = client.Close(ctx)

		return err
	}

	obs, err := env.Reset(ctx)
	if err != nil {
		_ = client.Close(ctx)

		return err
	}

	var episodeReturn float64

	for step := 0; ; step++ {
		// Fixed policy: all lights alternate phases together.
		actions := make(map[int]int, len(obs))
		for id := range obs {
			actions[id] = step % 2
		}

		result, err := env.Step(ctx, actions)
		if err != nil {
			_ = client.Close(ctx)

			return err
		}

		for _, r := range result.Rewards {
			episodeReturn += r
		}

		obs = result.Obs

		if result.Done {
			break
		}
	}

	status := client.Status()
	fmt.Printf("episode done: steps=%d vehicles=%d commands=%d return=%.2f\n",
		env.Steps(), status.Vehicles, status.Commands, episodeReturn)

	if err := env.Close(); err != nil {
		_ = client.Close(ctx)

		return err
	}

	if err := client.Close(ctx); err != nil {
		return err
	}

	return g.Wait()
}

// awaitAddr polls until the client's listener is up.
func awaitAddr(ctx context.Context, client simbridge.Client) (string, error) {
	for {
		if addr := client.Addr(); addr != "" {
			return addr, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// observeLights reports, per light, the vehicle count, the mean speed
// and the light's own phase.
func observeLights(k *kernel.Kernel) map[int]simbridge.Observation {
	speeds := k.Vehicle.Speeds()

	var mean float64
	for _, s := range speeds {
		mean += s
	}
	if len(speeds) > 0 {
		mean /= float64(len(speeds))
	}

	obs := make(map[int]simbridge.Observation)
	for _, id := range k.TrafficLight.IDs() {
		state, _ := k.TrafficLight.State(id)
		obs[id] = simbridge.Observation{float64(len(speeds)), mean, float64(state)}
	}

	return obs
}

// rewardMeanSpeed pays every light the network mean speed.
func rewardMeanSpeed(k *kernel.Kernel) map[int]float64 {
	speeds := k.Vehicle.Speeds()

	var mean float64
	for _, s := range speeds {
		mean += s
	}
	if len(speeds) > 0 {
		mean /= float64(len(speeds))
	}

	rewards := make(map[int]float64)
	for _, id := range k.TrafficLight.IDs() {
		rewards[id] = mean
	}

	return rewards
}

// applyLightPhases maps action 0 to green and anything else to red.
func applyLightPhases(ctx context.Context, k *kernel.Kernel, actions map[int]int) error {
	for id, action := range actions {
		state := microsim.LightGreen
		if action != 0 {
			state = microsim.LightRed
		}

		if err := k.TrafficLight.SetState(ctx, id, 0, state); err != nil {
			return err
		}
	}

	return nil
}
