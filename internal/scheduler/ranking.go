package scheduler

import (
	"math"
	"sort"
	"time"

	"github.com/ashureev/dotcheck/internal/domain"
	"github.com/ashureev/dotcheck/internal/registry"
)

const (
	// recencyHorizonDays caps how long an agent keeps gaining priority while
	// unasked.
	recencyHorizonDays = 30
	recencyWeight      = 4.0
	answeredPenalty    = 0.1
	answeredCap        = 10
	onboardingBoost    = 5.0
	onboardingSettled  = 0.5
)

var frequencyWeights = map[registry.FrequencyHint]float64{
	registry.FrequencyCoreWeekly: 3,
	registry.FrequencyPeriodic:   2,
	registry.FrequencyRare:       1,
}

// Candidate is one ranked agent for an employee.
type Candidate struct {
	Agent         registry.Agent
	Score         float64
	LastAskedAt   *time.Time
	TimesAnswered int
}

// agentHistory folds topic history rows into per-agent recency: the most
// recent ask across the agent's topics and the highest answer count.
func agentHistory(a registry.Agent, byTopic map[string]domain.TopicHistory) (*time.Time, int) {
	var last *time.Time
	answered := 0
	for _, code := range a.TopicCodes() {
		h, ok := byTopic[code]
		if !ok {
			continue
		}
		if h.LastAskedAt != nil && (last == nil || h.LastAskedAt.After(*last)) {
			ts := *h.LastAskedAt
			last = &ts
		}
		if h.TimesAnswered > answered {
			answered = h.TimesAnswered
		}
	}
	return last, answered
}

// Rank orders the agents applicable to emp from most to least preferred.
// Ties are broken by agent code so the result is reproducible.
func Rank(agents []registry.Agent, emp *domain.Employee, history []domain.TopicHistory, now time.Time, onboardingDays int) []Candidate {
	byTopic := make(map[string]domain.TopicHistory, len(history))
	for _, h := range history {
		byTopic[h.Topic] = h
	}

	out := make([]Candidate, 0, len(agents))
	for _, a := range agents {
		if !a.AppliesTo(emp) {
			continue
		}
		last, answered := agentHistory(a, byTopic)
		out = append(out, Candidate{
			Agent:         a,
			Score:         score(a, emp, last, answered, now, onboardingDays),
			LastAskedAt:   last,
			TimesAnswered: answered,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Agent.Code < out[j].Agent.Code
	})
	return out
}

func score(a registry.Agent, emp *domain.Employee, last *time.Time, answered int, now time.Time, onboardingDays int) float64 {
	s := frequencyWeight(a, emp, last, now, onboardingDays)

	// Never asked earns the full recency bonus.
	days := float64(recencyHorizonDays)
	if last != nil {
		days = math.Min(math.Max(now.Sub(*last).Hours()/24, 0), recencyHorizonDays)
	}
	s += days / recencyHorizonDays * recencyWeight

	s -= answeredPenalty * float64(min(answered, answeredCap))
	return s
}

func frequencyWeight(a registry.Agent, emp *domain.Employee, last *time.Time, now time.Time, onboardingDays int) float64 {
	if a.Frequency != registry.FrequencyOnboarding {
		return frequencyWeights[a.Frequency]
	}
	// Onboarding agents lead once, inside the onboarding window.
	if last == nil && emp.TenureDays(now) < onboardingDays {
		return onboardingBoost
	}
	return onboardingSettled
}
