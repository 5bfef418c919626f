package recording

import (
	"github.com/oklog/ulid/v2"
)

// Transition is one agent's experience for one environment step.
type Transition struct {
	Episode string
	Step    int
	Agent   int
	Action  int
	Reward  float64
	Speed   float64
	Done    bool
}

// EpisodeSummary aggregates one finished episode.
type EpisodeSummary struct {
	Episode     string
	Steps       int
	TotalReward float64
	Arrived     int
}

const (
	transitionTable = "transitions"
	episodeTable    = "episodes"
)

// EpisodeLog records environment transitions per step and an episode
// summary when the episode closes.
type EpisodeLog struct {
	recorder Recorder

	episode     string
	steps       int
	totalReward float64
	arrived     int
}

// NewEpisodeLog declares the episode tables on the recorder.
func NewEpisodeLog(recorder Recorder) (*EpisodeLog, error) {
	if err := recorder.CreateTable(transitionTable, Transition{}); err != nil {
		return nil, err
	}

	if err := recorder.CreateTable(episodeTable, EpisodeSummary{}); err != nil {
		return nil, err
	}

	return &EpisodeLog{recorder: recorder}, nil
}

// StartEpisode opens a fresh episode and returns its id.
func (l *EpisodeLog) StartEpisode() string {
	l.episode = ulid.Make().String()
	l.steps = 0
	l.totalReward = 0
	l.arrived = 0

	return l.episode
}

// RecordStep stores the per-agent transitions of one step.
func (l *EpisodeLog) RecordStep(actions map[int]int, rewards map[int]float64, speeds map[int]float64, dones map[int]bool) error {
	for agent, reward := range rewards {
		t := Transition{
			Episode: l.episode,
			Step:    l.steps,
			Agent:   agent,
			Action:  actions[agent],
			Reward:  reward,
			Speed:   speeds[agent],
			Done:    dones[agent],
		}

		if err := l.recorder.Insert(transitionTable, t); err != nil {
			return err
		}

		l.totalReward += reward

		if dones[agent] {
			l.arrived++
		}
	}

	l.steps++

	return nil
}

// CloseEpisode writes the episode summary and flushes everything.
func (l *EpisodeLog) CloseEpisode() error {
	if l.episode == "" {
		return nil
	}

	summary := EpisodeSummary{
		Episode:     l.episode,
		Steps:       l.steps,
		TotalReward: l.totalReward,
		Arrived:     l.arrived,
	}

	if err := l.recorder.Insert(episodeTable, summary); err != nil {
		return err
	}

	l.episode = ""

	return l.recorder.Flush()
}
