// Package model contains domain models passed between layers.
package model

import "time"

// IDColumn is the subject identifier column every submission and gold standard carries.
const IDColumn = "SUBJECTID"

// QuestionKind discriminates the two scoring families.
type QuestionKind int

const (
	KindUnknown QuestionKind = iota
	KindBinaryRanking
	KindContinuousCorrelation
)

func (k QuestionKind) String() string {
	switch k {
	case KindBinaryRanking:
		return "binary_ranking"
	case KindContinuousCorrelation:
		return "continuous_correlation"
	default:
		return "unknown"
	}
}

// Question is one challenge sub-question.
type Question struct {
	Key           string       `json:"key"`
	Kind          QuestionKind `json:"-"`
	KindName      string       `json:"kind"`
	OutcomeColumn string       `json:"outcomeColumn"`
}

// Challenge sub-questions.
var (
	SC1 = Question{Key: "SC1", Kind: KindBinaryRanking, KindName: KindBinaryRanking.String(), OutcomeColumn: "SHEDDING_SC1"}
	SC2 = Question{Key: "SC2", Kind: KindBinaryRanking, KindName: KindBinaryRanking.String(), OutcomeColumn: "SYMPTOMATIC_SC2"}
	SC3 = Question{Key: "SC3", Kind: KindContinuousCorrelation, KindName: KindContinuousCorrelation.String(), OutcomeColumn: "LOGSYMPTSCORE_SC3"}
)

// Questions lists every known sub-question.
func Questions() []Question {
	return []Question{SC1, SC2, SC3}
}

// QuestionByKey looks a sub-question up by its key.
func QuestionByKey(key string) (Question, bool) {
	for _, q := range Questions() {
		if q.Key == key {
			return q, true
		}
	}
	return Question{}, false
}

// Metric names written to score records and leaderboards.
const (
	MetricAUROC       = "AUROC"
	MetricAUPR        = "AUPR"
	MetricAUROCPValue = "nAUROC_pVal"
	MetricAUPRPValue  = "nAUPR_pVal"
	MetricScore       = "score"
	MetricPValue      = "pVal"
)

// MetricColumns returns the leaderboard metric columns for the question.
func (q Question) MetricColumns() []string {
	switch q.Kind {
	case KindBinaryRanking:
		return []string{MetricAUROC, MetricAUPR, MetricAUROCPValue, MetricAUPRPValue}
	case KindContinuousCorrelation:
		return []string{MetricScore, MetricPValue}
	default:
		return nil
	}
}

// ScoreRecord is the result of scoring one submission.
type ScoreRecord struct {
	Metrics map[string]float64 `json:"metrics"`
	Message string             `json:"message"`
}

// Submission carries the identity metadata of a submitted file.
type Submission struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluationId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName,omitempty"`
	EntityID     string    `json:"entityId"`
	Name         string    `json:"name"`
	TeamName     string    `json:"teamName,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// Team is the team name when the submission was made on behalf of one,
// otherwise the submitter's user name.
func (s Submission) Team() string {
	if s.TeamName != "" {
		return s.TeamName
	}
	return s.UserName
}

// State is the lifecycle position of a submission.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateValidated State = "VALIDATED"
	StateInvalid   State = "INVALID"
	StateScored    State = "SCORED"
	StateError     State = "ERROR"
)

// Terminal reports whether no further processing happens in this state.
func (s State) Terminal() bool {
	return s == StateInvalid || s == StateScored || s == StateError
}

// Annotations are key/value pairs attached to a submission status.
type Annotations struct {
	Strings map[string]string  `json:"strings,omitempty"`
	Doubles map[string]float64 `json:"doubles,omitempty"`
}

// Merge overlays other onto a copy of a.
func (a Annotations) Merge(other Annotations) Annotations {
	out := Annotations{
		Strings: make(map[string]string, len(a.Strings)+len(other.Strings)),
		Doubles: make(map[string]float64, len(a.Doubles)+len(other.Doubles)),
	}
	for k, v := range a.Strings {
		out.Strings[k] = v
	}
	for k, v := range other.Strings {
		out.Strings[k] = v
	}
	for k, v := range a.Doubles {
		out.Doubles[k] = v
	}
	for k, v := range other.Doubles {
		out.Doubles[k] = v
	}
	return out
}

// Status is the processing record of one submission.
type Status struct {
	Submission  Submission   `json:"submission"`
	State       State        `json:"state"`
	Message     string       `json:"message,omitempty"`
	Score       *ScoreRecord `json:"score,omitempty"`
	Annotations Annotations  `json:"annotations"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// LeaderboardRow is one row of an evaluation's leaderboard.
type LeaderboardRow struct {
	ObjectID   string             `json:"objectId"`
	UserID     string             `json:"userId"`
	EntityID   string             `json:"entityId"`
	SubmitDate time.Time          `json:"submitDate"`
	Name       string             `json:"name"`
	Team       string             `json:"team"`
	Metrics    map[string]float64 `json:"metrics"`
}

// NewLeaderboardRow builds the row published for a scored submission.
func NewLeaderboardRow(sub Submission, rec ScoreRecord) LeaderboardRow {
	metrics := make(map[string]float64, len(rec.Metrics))
	for k, v := range rec.Metrics {
		metrics[k] = v
	}
	return LeaderboardRow{
		ObjectID:   sub.ID,
		UserID:     sub.UserID,
		EntityID:   sub.EntityID,
		SubmitDate: sub.SubmittedAt,
		Name:       sub.Name,
		Team:       sub.Team(),
		Metrics:    metrics,
	}
}

// RankRecord is the outcome of rank aggregation for one submission.
type RankRecord struct {
	SubmissionID string          `json:"submissionId"`
	FinalRank    float64         `json:"finalRank"`
	Significant  map[string]bool `json:"significant"`
}
