package routing

// AdapterScore is the computed ranking input for one (adapter, task kind)
// pair. All component scores are in [0, 1].
type AdapterScore struct {
	Adapter       AdapterKind `json:"adapter"`
	TaskKind      TaskKind    `json:"task_kind"`
	SuccessRate   float64     `json:"success_rate"`
	LatencyScore  float64     `json:"latency_score"`
	CombinedScore float64     `json:"combined_score"`
	SampleCount   int         `json:"sample_count"`
	Confidence    Confidence  `json:"confidence"`
}

// PreferenceOrder ranks adapters for a task kind by combined score,
// descending. Adapters is never empty; when no adapter has sufficient
// data the static default order is carried with confidence insufficient.
type PreferenceOrder struct {
	TaskKind   TaskKind                     `json:"task_kind"`
	Adapters   []AdapterKind                `json:"adapters"`
	Scores     map[AdapterKind]AdapterScore `json:"scores,omitempty"`
	Confidence Confidence                   `json:"confidence"`
	Variant    Variant                      `json:"variant"`
}

// ScoreWeights holds the success/speed weighting for combined scores.
type ScoreWeights struct {
	Success float64
	Speed   float64
}

// Default scoring profiles per task kind. Batch-like work weighs success
// almost exclusively; user-interactive retrieval splits evenly.
var taskWeights = map[TaskKind]ScoreWeights{
	TaskWorkflow: {Success: 0.9, Speed: 0.1},
	TaskAI:       {Success: 0.9, Speed: 0.1},
	TaskRAGQuery: {Success: 0.5, Speed: 0.5},
}

// DefaultScoreWeights is the balanced profile for unrecognized kinds.
var DefaultScoreWeights = ScoreWeights{Success: 0.7, Speed: 0.3}

// WeightsFor returns the scoring weights for a task kind.
func WeightsFor(kind TaskKind) ScoreWeights {
	if w, ok := taskWeights[kind]; ok {
		return w
	}

	return DefaultScoreWeights
}
