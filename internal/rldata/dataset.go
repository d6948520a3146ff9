// Package rldata provides the offline reinforcement-learning dataset
// utilities surrounding the sampling engine: episode stitching into flat
// transition tables, episode-return statistics and the reward-rescaling
// heuristics applied before training.
package rldata

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

var (
	// ErrEmpty indicates a dataset with no transitions.
	ErrEmpty = errors.New("rldata: empty dataset")

	// ErrRagged indicates columns of differing lengths.
	ErrRagged = errors.New("rldata: mismatched column lengths")

	// ErrTune indicates an unknown reward-tuning identifier.
	ErrTune = errors.New("rldata: unknown reward tuning")
)

// Episode is one recorded rollout. Observations has one more entry than
// Actions: the trailing observation closes the episode.
type Episode struct {
	Observations [][]float64
	Actions      [][]float64
	Rewards      []float64
	Terminals    []bool
}

// Transitions is the flat (s, a, r, s', d) table built from episodes.
type Transitions struct {
	States     [][]float64
	Actions    [][]float64
	Rewards    []float64
	NextStates [][]float64
	Terminals  []bool
}

// Len returns the number of transitions.
func (t *Transitions) Len() int { return len(t.Rewards) }

func (t *Transitions) validate() error {
	n := t.Len()
	if n == 0 {
		return ErrEmpty
	}
	if len(t.States) != n || len(t.Actions) != n || len(t.NextStates) != n || len(t.Terminals) != n {
		return fmt.Errorf("%w: states=%d actions=%d next=%d terminals=%d rewards=%d",
			ErrRagged, len(t.States), len(t.Actions), len(t.NextStates), len(t.Terminals), n)
	}
	return nil
}

// Merge stitches episodes into one transition table: per episode, the
// trailing observation is dropped from the state column and becomes the
// next-state of the final step.
func Merge(episodes []Episode) (*Transitions, error) {
	out := &Transitions{}
	for i, ep := range episodes {
		steps := len(ep.Actions)
		if len(ep.Observations) != steps+1 || len(ep.Rewards) != steps || len(ep.Terminals) != steps {
			return nil, fmt.Errorf("%w: episode %d has obs=%d actions=%d rewards=%d terminals=%d",
				ErrRagged, i, len(ep.Observations), steps, len(ep.Rewards), len(ep.Terminals))
		}
		out.States = append(out.States, ep.Observations[:steps]...)
		out.NextStates = append(out.NextStates, ep.Observations[1:]...)
		out.Actions = append(out.Actions, ep.Actions...)
		out.Rewards = append(out.Rewards, ep.Rewards...)
		out.Terminals = append(out.Terminals, ep.Terminals...)
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("%d transitions merged from %d episodes", out.Len(), len(episodes))
	return out, nil
}

// ReturnRange splits the reward sequence into episodes at terminal steps or
// every maxEpisodeSteps ticks and returns the minimum and maximum episode
// return. The trailing incomplete episode contributes to the length
// accounting but not to the returns; the reconstruction invariant (episode
// lengths sum to the sequence length) is checked and reported as an error
// rather than trusted.
func ReturnRange(rewards []float64, terminals []bool, maxEpisodeSteps int) (minRet, maxRet float64, err error) {
	if len(rewards) == 0 {
		return 0, 0, ErrEmpty
	}
	if len(terminals) != len(rewards) {
		return 0, 0, fmt.Errorf("%w: rewards=%d terminals=%d", ErrRagged, len(rewards), len(terminals))
	}
	var returns []float64
	var lengths []int
	epRet, epLen := 0.0, 0
	for i, r := range rewards {
		epRet += r
		epLen++
		if terminals[i] || epLen == maxEpisodeSteps {
			returns = append(returns, epRet)
			lengths = append(lengths, epLen)
			epRet, epLen = 0.0, 0
		}
	}
	lengths = append(lengths, epLen)

	total := 0
	for _, l := range lengths {
		total += l
	}
	if total != len(rewards) {
		return 0, 0, fmt.Errorf("rldata: episode lengths sum to %d, want %d", total, len(rewards))
	}
	if len(returns) == 0 {
		return 0, 0, fmt.Errorf("%w: no completed episode", ErrEmpty)
	}
	minRet, maxRet = returns[0], returns[0]
	for _, r := range returns[1:] {
		minRet = math.Min(minRet, r)
		maxRet = math.Max(maxRet, r)
	}
	return minRet, maxRet, nil
}

// Reward tuning identifiers.
const (
	TuneNormalize     = "normalize"
	TuneIQLAntmaze    = "iql_antmaze"
	TuneIQLLocomotion = "iql_locomotion"
	TuneCQLAntmaze    = "cql_antmaze"
	TuneAntmaze       = "antmaze"
)

// TuneForEnv picks the conventional tuning for an environment id.
func TuneForEnv(envID string) string {
	if strings.Contains(envID, "antmaze") {
		return TuneIQLAntmaze
	}
	return TuneIQLLocomotion
}

// TuneRewards rescales rewards in place per the named heuristic. The
// locomotion tuning needs the terminal flags and episode step cap to
// compute the return range.
func TuneRewards(kind string, rewards []float64, terminals []bool, maxEpisodeSteps int) error {
	switch kind {
	case TuneNormalize:
		mean := stat.Mean(rewards, nil)
		std := stat.StdDev(rewards, nil)
		if std == 0 {
			return fmt.Errorf("rldata: zero reward variance, cannot normalize")
		}
		for i := range rewards {
			rewards[i] = (rewards[i] - mean) / std
		}
	case TuneIQLAntmaze:
		for i := range rewards {
			rewards[i] -= 1.0
		}
	case TuneIQLLocomotion:
		minRet, maxRet, err := ReturnRange(rewards, terminals, maxEpisodeSteps)
		if err != nil {
			return err
		}
		if maxRet == minRet {
			return fmt.Errorf("rldata: degenerate return range [%g, %g]", minRet, maxRet)
		}
		scale := 1000.0 / (maxRet - minRet)
		for i := range rewards {
			rewards[i] *= scale
		}
	case TuneCQLAntmaze:
		for i := range rewards {
			rewards[i] = (rewards[i] - 0.5) * 4.0
		}
	case TuneAntmaze:
		for i := range rewards {
			rewards[i] = (rewards[i] - 0.25) * 2.0
		}
	default:
		return fmt.Errorf("%w: %q", ErrTune, kind)
	}
	return nil
}
