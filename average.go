package imagebridge

import (
	"fmt"
	"time"
)

type stageState struct {
	index   int
	filled  int
	sum     time.Duration
	samples []time.Duration
}

// Timings is a moving average over the durations of named pipeline stages,
// such as grabbing, converting and displaying a frame.
type Timings struct {
	state map[string]*stageState
}

// NewTimings returns a moving average over the last size durations of each
// stage.
func NewTimings(size int, stages []string) (*Timings, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("must specify at least one stage")
	}
	t := &Timings{
		state: map[string]*stageState{},
	}
	for _, stage := range stages {
		t.state[stage] = &stageState{samples: make([]time.Duration, size)}
	}
	return t, nil
}

// Update adds one duration per stage and returns the averages. Until a stage
// has size samples, its average is over the samples seen so far. Unknown
// stages and empty updates are errors.
func (t *Timings) Update(durations map[string]time.Duration) (map[string]time.Duration, error) {
	if t.state == nil {
		return nil, fmt.Errorf("invalid Timings, use NewTimings")
	}
	if len(durations) == 0 {
		return nil, fmt.Errorf("durations must not be empty")
	}
	for stage := range durations {
		if _, ok := t.state[stage]; !ok {
			return nil, fmt.Errorf("unknown stage %q", stage)
		}
	}

	r := map[string]time.Duration{}
	for stage, d := range durations {
		s := t.state[stage]
		s.sum += d - s.samples[s.index]
		s.samples[s.index] = d
		s.index = (s.index + 1) % len(s.samples)
		if s.filled < len(s.samples) {
			s.filled++
		}
		r[stage] = s.sum / time.Duration(s.filled)
	}
	return r, nil
}
