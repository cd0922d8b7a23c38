package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// QuestionType selects the answer payload and grading rule of a question.
type QuestionType string

const (
	QuestionMCQSingle   QuestionType = "MCQ_SINGLE"
	QuestionMCQMulti    QuestionType = "MCQ_MULTI"
	QuestionTrueFalse   QuestionType = "TRUE_FALSE"
	QuestionShortAnswer QuestionType = "SHORT_ANSWER"
	QuestionNumeric     QuestionType = "NUMERIC"
	QuestionOther       QuestionType = "OTHER"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMCQSingle, QuestionMCQMulti, QuestionTrueFalse, QuestionShortAnswer, QuestionNumeric, QuestionOther:
		return true
	}
	return false
}

// DamageAggregation decides how several correct answers to one question hit the boss.
type DamageAggregation string

const (
	// AggregateSum applies damage for every correct answer.
	AggregateSum DamageAggregation = "SUM"
	// AggregateFirstCorrectOnly applies damage for the first correct answer only.
	AggregateFirstCorrectOnly DamageAggregation = "FIRST_CORRECT_ONLY"
	// AggregateBestOf applies damage at most once per guild.
	AggregateBestOf DamageAggregation = "BEST_OF"
)

func (a DamageAggregation) Valid() bool {
	switch a {
	case AggregateSum, AggregateFirstCorrectOnly, AggregateBestOf:
		return true
	}
	return false
}

// OrDefault returns SUM for an unset policy.
func (a DamageAggregation) OrDefault() DamageAggregation {
	if a == "" {
		return AggregateSum
	}
	return a
}

// RewardConfig is the per-question XP/gold decay model.
type RewardConfig struct {
	BaseXP            int  `json:"baseXp"`
	MinXP             int  `json:"minXp"`
	XPDecayPerWrong   int  `json:"xpDecayPerWrong"`
	BaseGold          int  `json:"baseGold"`
	MinGold           int  `json:"minGold"`
	GoldDecayPerWrong int  `json:"goldDecayPerWrong"`
	DecayExempt       bool `json:"decayExempt"`
}

// IsZero reports whether no reward was configured.
func (r RewardConfig) IsZero() bool {
	return r.BaseXP == 0 && r.BaseGold == 0 && r.MinXP == 0 && r.MinGold == 0
}

func (r RewardConfig) Validate() error {
	switch {
	case r.MinXP < 0 || r.MinGold < 0:
		return fmt.Errorf("%w: reward minimums must be non-negative", ErrInvalidQuestion)
	case r.MinXP > r.BaseXP:
		return fmt.Errorf("%w: min_xp %d exceeds base_xp %d", ErrInvalidQuestion, r.MinXP, r.BaseXP)
	case r.MinGold > r.BaseGold:
		return fmt.Errorf("%w: min_gold %d exceeds base_gold %d", ErrInvalidQuestion, r.MinGold, r.BaseGold)
	case r.XPDecayPerWrong < 0 || r.GoldDecayPerWrong < 0:
		return fmt.Errorf("%w: decay per wrong must be non-negative", ErrInvalidQuestion)
	}
	return nil
}

// BossTemplate is the teacher-authored definition of a boss battle.
type BossTemplate struct {
	ID                string            `json:"id"`
	OwnerTeacherID    string            `json:"ownerTeacherId"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Subject           *string           `json:"subject,omitempty"`
	MaxHP             int               `json:"maxHp"`
	BaseXPReward      int               `json:"baseXpReward"`
	BaseGoldReward    int               `json:"baseGoldReward"`
	IsSharedPublicly  bool              `json:"isSharedPublicly"`
	DamageAggregation DamageAggregation `json:"damageAggregation"`
	CreatedAt         time.Time         `json:"createdAt"`
}

func (t BossTemplate) Validate() error {
	switch {
	case t.OwnerTeacherID == "":
		return fmt.Errorf("%w: owner teacher id is required", ErrInvalidTemplate)
	case t.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidTemplate)
	case t.MaxHP <= 0:
		return fmt.Errorf("%w: max_hp must be positive", ErrInvalidTemplate)
	case t.BaseXPReward < 0 || t.BaseGoldReward < 0:
		return fmt.Errorf("%w: base rewards must be non-negative", ErrInvalidTemplate)
	case t.DamageAggregation != "" && !t.DamageAggregation.Valid():
		return fmt.Errorf("%w: unknown damage aggregation %q", ErrInvalidTemplate, t.DamageAggregation)
	}
	return nil
}

// Option is one selectable choice of an MCQ question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a boss question. CorrectAnswer is typed by QuestionType.
type Question struct {
	ID                       string       `json:"questionId"`
	TemplateID               string       `json:"bossTemplateId"`
	OrderIndex               int          `json:"orderIndex"`
	OrderKey                 string       `json:"orderKey"`
	Text                     string       `json:"questionText"`
	Type                     QuestionType `json:"questionType"`
	Options                  []Option     `json:"options,omitempty"`
	CorrectAnswer            Answer       `json:"-"`
	DamageToBossOnCorrect    int          `json:"damageToBossOnCorrect"`
	DamageToGuildOnIncorrect int          `json:"damageToGuildOnIncorrect"`
	MaxPoints                *int         `json:"maxPoints,omitempty"`
	AutoGradable             bool         `json:"autoGradable"`
	TimeLimitSeconds         *int         `json:"timeLimitSeconds,omitempty"`
	Reward                   RewardConfig `json:"reward"`
	CreatedAt                time.Time    `json:"createdAt"`
}

type questionAlias Question

type questionJSON struct {
	questionAlias
	CorrectAnswer json.RawMessage `json:"correctAnswer,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	out := questionJSON{questionAlias: questionAlias(q)}
	if q.CorrectAnswer != nil {
		raw, err := json.Marshal(q.CorrectAnswer)
		if err != nil {
			return nil, err
		}
		out.CorrectAnswer = raw
	}
	return json.Marshal(out)
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var in questionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*q = Question(in.questionAlias)
	q.CorrectAnswer = nil
	if len(in.CorrectAnswer) > 0 && string(in.CorrectAnswer) != "null" {
		answer, err := ParseAnswer(q.Type, in.CorrectAnswer)
		if err != nil {
			return fmt.Errorf("correct answer: %w", err)
		}
		q.CorrectAnswer = answer
	}
	return nil
}

// Validate checks the structural rules of a question. It does not assign
// the order key.
func (q Question) Validate() error {
	switch {
	case q.TemplateID == "":
		return fmt.Errorf("%w: boss template id is required", ErrInvalidQuestion)
	case q.Text == "":
		return fmt.Errorf("%w: question text is required", ErrInvalidQuestion)
	case !q.Type.Valid():
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidQuestion, q.Type)
	case q.DamageToBossOnCorrect < 0 || q.DamageToGuildOnIncorrect < 0:
		return fmt.Errorf("%w: damage values must be non-negative", ErrInvalidQuestion)
	case q.TimeLimitSeconds != nil && *q.TimeLimitSeconds <= 0:
		return fmt.Errorf("%w: time limit must be positive", ErrInvalidQuestion)
	case q.MaxPoints != nil && *q.MaxPoints < 0:
		return fmt.Errorf("%w: max points must be non-negative", ErrInvalidQuestion)
	case q.AutoGradable && q.CorrectAnswer == nil:
		return fmt.Errorf("%w: auto-gradable question requires a correct answer", ErrInvalidQuestion)
	}
	if q.CorrectAnswer != nil && q.CorrectAnswer.Kind() != q.Type {
		return fmt.Errorf("%w: correct answer is %s, question is %s", ErrInvalidQuestion, q.CorrectAnswer.Kind(), q.Type)
	}
	if err := q.Reward.Validate(); err != nil {
		return err
	}
	if q.Type == QuestionMCQSingle || q.Type == QuestionMCQMulti {
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: %s needs at least two options", ErrInvalidQuestion, q.Type)
		}
		ids := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if opt.ID == "" {
				return fmt.Errorf("%w: option id is required", ErrInvalidQuestion)
			}
			if _, dup := ids[opt.ID]; dup {
				return fmt.Errorf("%w: duplicate option id %q", ErrInvalidQuestion, opt.ID)
			}
			ids[opt.ID] = struct{}{}
		}
		for _, id := range choiceIDs(q.CorrectAnswer) {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("%w: correct answer references unknown option %q", ErrInvalidQuestion, id)
			}
		}
	}
	return nil
}

// CheckChoices rejects answers that select options the question does not offer.
func (q Question) CheckChoices(a Answer) error {
	ids := choiceIDs(a)
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		found := false
		for _, opt := range q.Options {
			if opt.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: unknown option %q", ErrInvalidAnswerShape, id)
		}
	}
	return nil
}

// TimeLimit returns the per-question time limit, or zero when unlimited.
func (q Question) TimeLimit() time.Duration {
	if q.TimeLimitSeconds == nil {
		return 0
	}
	return time.Duration(*q.TimeLimitSeconds) * time.Second
}

// PublicQuestion is the view of a question sent to students.
type PublicQuestion struct {
	ID               string       `json:"questionId"`
	OrderIndex       int          `json:"orderIndex"`
	Text             string       `json:"questionText"`
	Type             QuestionType `json:"questionType"`
	Options          []Option     `json:"options,omitempty"`
	TimeLimitSeconds *int         `json:"timeLimitSeconds,omitempty"`
}

// Public strips grading data from q.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:               q.ID,
		OrderIndex:       q.OrderIndex,
		Text:             q.Text,
		Type:             q.Type,
		Options:          q.Options,
		TimeLimitSeconds: q.TimeLimitSeconds,
	}
}

// LateJoinPolicy controls what happens to joins after the lobby closes.
type LateJoinPolicy string

const (
	LateJoinAllowSpectate LateJoinPolicy = "ALLOW_SPECTATE"
	LateJoinReject        LateJoinPolicy = "REJECT"
)

// Outcome is set when a battle completes.
type Outcome string

const (
	OutcomeVictory Outcome = "VICTORY"
	OutcomeDefeat  Outcome = "DEFEAT"
)

// GuildAttempt tracks one student's answers to the active question.
type GuildAttempt struct {
	GuildID string `json:"guildId"`
	Wrong   int    `json:"wrong"`
	Correct bool   `json:"correct"`
	Pending bool   `json:"pending,omitempty"`
}

// RoundState is the answer history of the active question.
type RoundState struct {
	QuestionID  string                  `json:"questionId"`
	Attempts    map[string]GuildAttempt `json:"attempts"`
	AnyHit      bool                    `json:"anyHit"`
	GuildsHit   map[string]bool         `json:"guildsHit"`
	BossDamage  int                     `json:"bossDamage"`
	GuildDamage int                     `json:"guildDamage"`
}

// NewRound starts an empty round for questionID.
func NewRound(questionID string) RoundState {
	return RoundState{
		QuestionID: questionID,
		Attempts:   make(map[string]GuildAttempt),
		GuildsHit:  make(map[string]bool),
	}
}

// StudentScore accumulates the numbers a student produced in one battle.
type StudentScore struct {
	StudentID   string    `json:"studentId"`
	GuildID     string    `json:"guildId"`
	XP          int       `json:"xp"`
	Gold        int       `json:"gold"`
	Damage      int       `json:"damage"`
	Correct     int       `json:"correct"`
	Wrong       int       `json:"wrong"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// BattleInstance is one live run of a template against a class.
type BattleInstance struct {
	ID                   string                  `json:"bossInstanceId"`
	TemplateID           string                  `json:"bossTemplateId"`
	ClassID              string                  `json:"classId"`
	Status               BattleStatus            `json:"status"`
	LateJoinPolicy       LateJoinPolicy          `json:"lateJoinPolicy"`
	MaxHP                int                     `json:"maxHp"`
	CurrentHP            int                     `json:"currentHp"`
	CurrentQuestionIndex int                     `json:"currentQuestionIndex"`
	DamageAggregation    DamageAggregation       `json:"damageAggregation"`
	GuildMaxHP           int                     `json:"guildMaxHp"`
	GuildHP              map[string]int          `json:"guildHp"`
	Round                RoundState              `json:"round"`
	Scores               map[string]StudentScore `json:"scores"`
	QuestionDeadline     *time.Time              `json:"questionDeadline,omitempty"`
	Outcome              Outcome                 `json:"outcome,omitempty"`
	Version              int64                   `json:"version"`
	CreatedAt            time.Time               `json:"createdAt"`
	UpdatedAt            time.Time               `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (b BattleInstance) Clone() BattleInstance {
	out := b
	out.GuildHP = make(map[string]int, len(b.GuildHP))
	for k, v := range b.GuildHP {
		out.GuildHP[k] = v
	}
	out.Scores = make(map[string]StudentScore, len(b.Scores))
	for k, v := range b.Scores {
		out.Scores[k] = v
	}
	out.Round.Attempts = make(map[string]GuildAttempt, len(b.Round.Attempts))
	for k, v := range b.Round.Attempts {
		out.Round.Attempts[k] = v
	}
	out.Round.GuildsHit = make(map[string]bool, len(b.Round.GuildsHit))
	for k, v := range b.Round.GuildsHit {
		out.Round.GuildsHit[k] = v
	}
	if b.QuestionDeadline != nil {
		d := *b.QuestionDeadline
		out.QuestionDeadline = &d
	}
	return out
}

// EnsureMaps allocates any nil map so decoded instances can be mutated.
func (b *BattleInstance) EnsureMaps() {
	if b.GuildHP == nil {
		b.GuildHP = make(map[string]int)
	}
	if b.Scores == nil {
		b.Scores = make(map[string]StudentScore)
	}
	if b.Round.Attempts == nil {
		b.Round.Attempts = make(map[string]GuildAttempt)
	}
	if b.Round.GuildsHit == nil {
		b.Round.GuildsHit = make(map[string]bool)
	}
}

// AllGuildsDown reports whether every guild in guilds is out of HP. A guild
// with no HP entry has not been hit yet and is still standing.
func (b BattleInstance) AllGuildsDown(guilds []string) bool {
	if len(guilds) == 0 {
		return false
	}
	for _, g := range guilds {
		if hp, ok := b.GuildHP[g]; !ok || hp > 0 {
			return false
		}
	}
	return true
}

// ParticipantState is JOINED or SPECTATE.
type ParticipantState string

const (
	ParticipantJoined   ParticipantState = "JOINED"
	ParticipantSpectate ParticipantState = "SPECTATE"
)

// Participant is a student's membership in one battle instance.
type Participant struct {
	InstanceID string           `json:"bossInstanceId"`
	StudentID  string           `json:"studentId"`
	ClassID    string           `json:"classId"`
	GuildID    string           `json:"guildId"`
	State      ParticipantState `json:"state"`
	JoinedAt   time.Time        `json:"joinedAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// JoinResult is returned to a joining student.
type JoinResult struct {
	Participant Participant      `json:"participant"`
	State       ParticipantState `json:"state"`
	Spectator   bool             `json:"spectator"`
}

// AnswerSubmission is one student's answer to the active question.
type AnswerSubmission struct {
	StudentID  string
	GuildID    string
	QuestionID string
	Answer     Answer
}

// AnswerOutcome is the numeric effect of a single answer.
type AnswerOutcome struct {
	QuestionID  string       `json:"questionId"`
	Correct     bool         `json:"correct"`
	Pending     bool         `json:"pending"`
	BossDamage  int          `json:"bossDamage"`
	GuildDamage int          `json:"guildDamage"`
	RewardXP    int          `json:"rewardXp"`
	RewardGold  int          `json:"rewardGold"`
	BossHP      int          `json:"bossHp"`
	Status      BattleStatus `json:"status"`
}

// ScoreEntry is a leaderboard row.
type ScoreEntry struct {
	StudentID string `json:"studentId"`
	GuildID   string `json:"guildId"`
	XP        int    `json:"xp"`
	Gold      int    `json:"gold"`
	Damage    int    `json:"damage"`
}

// Snapshot is the client-facing view of a battle.
type Snapshot struct {
	InstanceID           string         `json:"bossInstanceId"`
	Status               BattleStatus   `json:"status"`
	BossHP               int            `json:"bossHp"`
	MaxHP                int            `json:"maxHp"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	QuestionDeadline     *time.Time     `json:"questionDeadline,omitempty"`
	GuildHP              map[string]int `json:"guildHp"`
	Leaderboard          []ScoreEntry   `json:"leaderboard"`
	Outcome              Outcome        `json:"outcome,omitempty"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}
