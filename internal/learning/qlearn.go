package learning

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/observ"
	"github.com/quantpulse/trading-engine/internal/regime"
)

// Convergence phase of the agent, informational only.
const (
	PhaseExploring  = "EXPLORING"
	PhaseConverging = "CONVERGING"
	PhaseConverged  = "CONVERGED"
)

// State is the discretized market state the agent learns over. Buckets are
// coarse on purpose: a tabular Q-table only generalizes through aliasing, so
// fewer cells means faster convergence on realistic trade volumes.
type State struct {
	RSIBucket       int           // 0 oversold, 1 low, 2 high, 3 overbought
	VolBucket       int           // 0 calm, 1 normal, 2 elevated, 3 extreme
	MomentumBucket  int           // 0 falling, 1 flat, 2 rising
	SentimentBucket int           // 0 negative, 1 neutral, 2 positive
	Regime          regime.Regime
	PnLBucket       int           // 0 losing, 1 flat, 2 winning
	HourBucket      int           // UTC hour / 4
	SessionPhase    string        // "open" | "mid" | "close" | "off"
}

func (s State) Key() string {
	return fmt.Sprintf("%d|%d|%d|%d|%s|%d|%d|%s",
		s.RSIBucket, s.VolBucket, s.MomentumBucket, s.SentimentBucket,
		s.Regime, s.PnLBucket, s.HourBucket, s.SessionPhase)
}

// Action is a discretized trading action.
type Action struct {
	Direction        string // "UP" | "DOWN" | "HOLD"
	SizeBucket       int    // 0 small, 1 medium, 2 large
	ConfidenceBucket int    // 0 low, 1 medium, 2 high
}

func (a Action) Key() string {
	return fmt.Sprintf("%s|%d|%d", a.Direction, a.SizeBucket, a.ConfidenceBucket)
}

// Actions enumerates the full action space. HOLD ignores the size dimension,
// so only one size bucket is emitted for it.
func Actions() []Action {
	var out []Action
	for _, dir := range []string{"UP", "DOWN"} {
		for size := 0; size < 3; size++ {
			for conf := 0; conf < 3; conf++ {
				out = append(out, Action{Direction: dir, SizeBucket: size, ConfidenceBucket: conf})
			}
		}
	}
	for conf := 0; conf < 3; conf++ {
		out = append(out, Action{Direction: "HOLD", ConfidenceBucket: conf})
	}
	return out
}

// Discretize maps a feature vector plus portfolio context into a State.
func Discretize(v features.Vector, reg regime.Regime, unrealizedPnLPct float64, now time.Time) State {
	return State{
		RSIBucket:       bucket(v.RSI, 30, 50, 70),
		VolBucket:       bucket(v.Volatility, 0.15, 0.30, 0.50),
		MomentumBucket:  bucket(v.Momentum, -0.01, 0.01, math.Inf(1)),
		SentimentBucket: bucket(v.Sentiment, -0.2, 0.2, math.Inf(1)),
		Regime:          reg,
		PnLBucket:       bucket(unrealizedPnLPct, -0.005, 0.005, math.Inf(1)),
		HourBucket:      now.UTC().Hour() / 4,
		SessionPhase:    sessionPhase(now),
	}
}

// BucketAction maps a concrete decision into the discrete action space.
func BucketAction(direction string, size, confidence float64) Action {
	return Action{
		Direction:        direction,
		SizeBucket:       bucket(size, 0.03, 0.08, math.Inf(1)),
		ConfidenceBucket: bucket(confidence, 0.60, 0.75, math.Inf(1)),
	}
}

func bucket(v, b0, b1, b2 float64) int {
	switch {
	case v < b0:
		return 0
	case v < b1:
		return 1
	case v < b2:
		return 2
	default:
		return 3
	}
}

func sessionPhase(now time.Time) string {
	u := now.UTC()
	wd := u.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return "off"
	}
	mins := u.Hour()*60 + u.Minute()
	switch {
	case mins < 13*60+30 || mins >= 20*60:
		return "off"
	case mins < 15*60:
		return "open"
	case mins < 19*60:
		return "mid"
	default:
		return "close"
	}
}

// Step is one recorded (state, action, reward) triple in the open episode.
type Step struct {
	State  State
	Action Action
	Reward float64
}

// EpisodeSummary is the finalized record of one trading session.
type EpisodeSummary struct {
	Steps       int
	TotalReward float64
	FinalReturn float64
	EndedAt     time.Time
}

// Config holds the agent's learning parameters.
type Config struct {
	Alpha             float64 // learning rate
	Gamma             float64 // discount factor
	Epsilon           float64 // initial exploration rate
	EpsilonDecay      float64 // multiplicative decay per update
	EpsilonMin        float64
	EpisodeHistoryCap int
}

// Agent is a tabular Q-learning agent with epsilon-greedy exploration. The
// scheduler's learning task and the decision cycle both touch it, so all
// state lives behind one mutex.
type Agent struct {
	mu       sync.Mutex
	cfg      Config
	q        map[string]float64
	visits   map[string]int
	epsilon  float64
	steps    []Step
	episodes []EpisodeSummary
	rng      *rand.Rand
}

func NewAgent(cfg Config) *Agent {
	if cfg.EpisodeHistoryCap <= 0 {
		cfg.EpisodeHistoryCap = 100
	}
	return &Agent{
		cfg:     cfg,
		q:       make(map[string]float64),
		visits:  make(map[string]int),
		epsilon: cfg.Epsilon,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func qKey(s State, a Action) string { return s.Key() + "#" + a.Key() }

// SelectAction is epsilon-greedy: explore uniformly with probability epsilon,
// otherwise pick the highest-valued action (ties broken by enumeration order).
func (ag *Agent) SelectAction(s State) Action {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	actions := Actions()
	if ag.rng.Float64() < ag.epsilon {
		return actions[ag.rng.Intn(len(actions))]
	}

	best := actions[0]
	bestQ := math.Inf(-1)
	for _, a := range actions {
		if v := ag.q[qKey(s, a)]; v > bestQ {
			best, bestQ = a, v
		}
	}
	return best
}

// Update applies one temporal-difference update,
// Q(s,a) += alpha * (r + gamma*max_a' Q(s',a') - Q(s,a)),
// then decays epsilon.
func (ag *Agent) Update(s State, a Action, reward float64, next State) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.updateLocked(s, a, reward, next)
}

func (ag *Agent) updateLocked(s State, a Action, reward float64, next State) {
	key := qKey(s, a)
	maxNext := math.Inf(-1)
	for _, na := range Actions() {
		if v := ag.q[qKey(next, na)]; v > maxNext {
			maxNext = v
		}
	}
	if math.IsInf(maxNext, -1) {
		maxNext = 0
	}

	ag.q[key] += ag.cfg.Alpha * (reward + ag.cfg.Gamma*maxNext - ag.q[key])
	ag.visits[key]++

	ag.epsilon *= ag.cfg.EpsilonDecay
	if ag.epsilon < ag.cfg.EpsilonMin {
		ag.epsilon = ag.cfg.EpsilonMin
	}
	observ.SetEpsilon(ag.epsilon)
}

// RecordStep appends one (state, action, reward) triple to the open episode.
// No Q-update happens here: credit assignment waits for EndEpisode so the
// discounted return can flow backward through the whole session.
func (ag *Agent) RecordStep(s State, a Action, reward float64) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.steps = append(ag.steps, Step{State: s, Action: a, Reward: reward})
}

// EndEpisode finalizes the open episode. Rewards are backpropagated with the
// discount factor (G_i = r_i + gamma*G_{i+1}, seeded with the session's final
// return), then each consecutive state pair receives one TD update against the
// backed-up return. N steps produce exactly N-1 transition updates. The
// summary is appended to a history trimmed to the configured cap.
func (ag *Agent) EndEpisode(finalReturn float64, now time.Time) EpisodeSummary {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	n := len(ag.steps)
	returns := make([]float64, n)
	total := 0.0
	g := finalReturn
	for i := n - 1; i >= 0; i-- {
		g = ag.steps[i].Reward + ag.cfg.Gamma*g
		returns[i] = g
		total += ag.steps[i].Reward
	}

	for i := 0; i < n-1; i++ {
		ag.updateLocked(ag.steps[i].State, ag.steps[i].Action, returns[i], ag.steps[i+1].State)
	}

	summary := EpisodeSummary{
		Steps:       n,
		TotalReward: total,
		FinalReturn: finalReturn,
		EndedAt:     now,
	}
	ag.episodes = append(ag.episodes, summary)
	if len(ag.episodes) > ag.cfg.EpisodeHistoryCap {
		ag.episodes = ag.episodes[len(ag.episodes)-ag.cfg.EpisodeHistoryCap:]
	}
	ag.steps = ag.steps[:0]

	observ.Log("episode_finalized", map[string]any{
		"steps": n, "total_reward": total, "final_return": finalReturn,
		"epsilon": ag.epsilon, "q_states": len(ag.q),
	})
	return summary
}

// Convergence reports the agent's learning phase from epsilon and the variance
// of recent episode returns. Informational only; nothing gates on it.
func (ag *Agent) Convergence() string {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	if ag.epsilon > 0.15 || len(ag.episodes) < 5 {
		return PhaseExploring
	}

	recent := ag.episodes
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	mean := 0.0
	for _, e := range recent {
		mean += e.FinalReturn
	}
	mean /= float64(len(recent))
	variance := 0.0
	for _, e := range recent {
		d := e.FinalReturn - mean
		variance += d * d
	}
	variance /= float64(len(recent))

	if ag.epsilon <= ag.cfg.EpsilonMin+1e-9 && variance < 0.05 {
		return PhaseConverged
	}
	return PhaseConverging
}

// Epsilon returns the current exploration rate.
func (ag *Agent) Epsilon() float64 {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.epsilon
}

// QValue returns the current estimate for a state-action pair.
func (ag *Agent) QValue(s State, a Action) float64 {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.q[qKey(s, a)]
}

// Episodes returns a copy of the finalized episode history, oldest first.
func (ag *Agent) Episodes() []EpisodeSummary {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	out := make([]EpisodeSummary, len(ag.episodes))
	copy(out, ag.episodes)
	return out
}

// OpenSteps returns the number of steps in the unfinalized episode.
func (ag *Agent) OpenSteps() int {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return len(ag.steps)
}
