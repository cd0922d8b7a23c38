package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"classquest-battle/internal/domain"
	"github.com/uptrace/bun"
)

type templateRow struct {
	bun.BaseModel `bun:"table:boss_templates,alias:bt"`

	ID                string    `bun:"id,pk"`
	OwnerTeacherID    string    `bun:"owner_teacher_id,notnull"`
	Title             string    `bun:"title,notnull"`
	Description       string    `bun:"description,notnull"`
	Subject           *string   `bun:"subject"`
	MaxHP             int       `bun:"max_hp,notnull"`
	BaseXPReward      int       `bun:"base_xp_reward,notnull"`
	BaseGoldReward    int       `bun:"base_gold_reward,notnull"`
	IsSharedPublicly  bool      `bun:"is_shared_publicly,notnull"`
	DamageAggregation string    `bun:"damage_aggregation,notnull"`
	CreatedAt         time.Time `bun:"created_at,notnull"`
}

func templateRowFrom(t domain.BossTemplate) templateRow {
	return templateRow{
		ID:                t.ID,
		OwnerTeacherID:    t.OwnerTeacherID,
		Title:             t.Title,
		Description:       t.Description,
		Subject:           t.Subject,
		MaxHP:             t.MaxHP,
		BaseXPReward:      t.BaseXPReward,
		BaseGoldReward:    t.BaseGoldReward,
		IsSharedPublicly:  t.IsSharedPublicly,
		DamageAggregation: string(t.DamageAggregation.OrDefault()),
		CreatedAt:         t.CreatedAt,
	}
}

func (r templateRow) toDomain() domain.BossTemplate {
	return domain.BossTemplate{
		ID:                r.ID,
		OwnerTeacherID:    r.OwnerTeacherID,
		Title:             r.Title,
		Description:       r.Description,
		Subject:           r.Subject,
		MaxHP:             r.MaxHP,
		BaseXPReward:      r.BaseXPReward,
		BaseGoldReward:    r.BaseGoldReward,
		IsSharedPublicly:  r.IsSharedPublicly,
		DamageAggregation: domain.DamageAggregation(r.DamageAggregation),
		CreatedAt:         r.CreatedAt,
	}
}

type questionRow struct {
	bun.BaseModel `bun:"table:boss_questions,alias:bq"`

	ID                       string              `bun:"question_id,pk"`
	Seq                      int64               `bun:"seq,nullzero"`
	TemplateID               string              `bun:"boss_template_id,notnull"`
	OrderIndex               int                 `bun:"order_index,notnull"`
	OrderKey                 string              `bun:"order_key,notnull"`
	Text                     string              `bun:"question_text,notnull"`
	Type                     string              `bun:"question_type,notnull"`
	Options                  []domain.Option     `bun:"options,type:jsonb"`
	CorrectAnswer            json.RawMessage     `bun:"correct_answer,type:jsonb,nullzero"`
	DamageToBossOnCorrect    int                 `bun:"damage_to_boss_on_correct,notnull"`
	DamageToGuildOnIncorrect int                 `bun:"damage_to_guild_on_incorrect,notnull"`
	MaxPoints                *int                `bun:"max_points"`
	AutoGradable             bool                `bun:"auto_gradable,notnull"`
	TimeLimitSeconds         *int                `bun:"time_limit_seconds"`
	Reward                   domain.RewardConfig `bun:"reward,type:jsonb,notnull"`
	CreatedAt                time.Time           `bun:"created_at,notnull"`
}

func questionRowFrom(q domain.Question) (questionRow, error) {
	row := questionRow{
		ID:                       q.ID,
		TemplateID:               q.TemplateID,
		OrderIndex:               q.OrderIndex,
		OrderKey:                 q.OrderKey,
		Text:                     q.Text,
		Type:                     string(q.Type),
		Options:                  q.Options,
		DamageToBossOnCorrect:    q.DamageToBossOnCorrect,
		DamageToGuildOnIncorrect: q.DamageToGuildOnIncorrect,
		MaxPoints:                q.MaxPoints,
		AutoGradable:             q.AutoGradable,
		TimeLimitSeconds:         q.TimeLimitSeconds,
		Reward:                   q.Reward,
		CreatedAt:                q.CreatedAt,
	}
	if q.CorrectAnswer != nil {
		raw, err := json.Marshal(q.CorrectAnswer)
		if err != nil {
			return questionRow{}, fmt.Errorf("marshal correct answer: %w", err)
		}
		row.CorrectAnswer = raw
	}
	return row, nil
}

func (r questionRow) toDomain() (domain.Question, error) {
	q := domain.Question{
		ID:                       r.ID,
		TemplateID:               r.TemplateID,
		OrderIndex:               r.OrderIndex,
		OrderKey:                 r.OrderKey,
		Text:                     r.Text,
		Type:                     domain.QuestionType(r.Type),
		Options:                  r.Options,
		DamageToBossOnCorrect:    r.DamageToBossOnCorrect,
		DamageToGuildOnIncorrect: r.DamageToGuildOnIncorrect,
		MaxPoints:                r.MaxPoints,
		AutoGradable:             r.AutoGradable,
		TimeLimitSeconds:         r.TimeLimitSeconds,
		Reward:                   r.Reward,
		CreatedAt:                r.CreatedAt,
	}
	if len(r.CorrectAnswer) > 0 && string(r.CorrectAnswer) != "null" {
		answer, err := domain.ParseAnswer(q.Type, r.CorrectAnswer)
		if err != nil {
			return domain.Question{}, fmt.Errorf("question %s correct answer: %w", r.ID, err)
		}
		q.CorrectAnswer = answer
	}
	return q, nil
}

type instanceRow struct {
	bun.BaseModel `bun:"table:boss_instances,alias:bi"`

	ID                   string                         `bun:"boss_instance_id,pk"`
	TemplateID           string                         `bun:"boss_template_id,notnull"`
	ClassID              string                         `bun:"class_id,notnull"`
	Status               string                         `bun:"status,notnull"`
	LateJoinPolicy       string                         `bun:"late_join_policy,notnull"`
	MaxHP                int                            `bun:"max_hp,notnull"`
	CurrentHP            int                            `bun:"current_hp,notnull"`
	CurrentQuestionIndex int                            `bun:"current_question_index,notnull"`
	DamageAggregation    string                         `bun:"damage_aggregation,notnull"`
	GuildMaxHP           int                            `bun:"guild_max_hp,notnull"`
	GuildHP              map[string]int                 `bun:"guild_hp,type:jsonb,notnull"`
	Round                domain.RoundState              `bun:"round,type:jsonb,notnull"`
	Scores               map[string]domain.StudentScore `bun:"scores,type:jsonb,notnull"`
	QuestionDeadline     *time.Time                     `bun:"question_deadline"`
	Outcome              string                         `bun:"outcome,notnull"`
	Version              int64                          `bun:"version,notnull"`
	CreatedAt            time.Time                      `bun:"created_at,notnull"`
	UpdatedAt            time.Time                      `bun:"updated_at,notnull"`
}

func instanceRowFrom(b domain.BattleInstance) instanceRow {
	b.EnsureMaps()
	return instanceRow{
		ID:                   b.ID,
		TemplateID:           b.TemplateID,
		ClassID:              b.ClassID,
		Status:               string(b.Status),
		LateJoinPolicy:       string(b.LateJoinPolicy),
		MaxHP:                b.MaxHP,
		CurrentHP:            b.CurrentHP,
		CurrentQuestionIndex: b.CurrentQuestionIndex,
		DamageAggregation:    string(b.DamageAggregation),
		GuildMaxHP:           b.GuildMaxHP,
		GuildHP:              b.GuildHP,
		Round:                b.Round,
		Scores:               b.Scores,
		QuestionDeadline:     b.QuestionDeadline,
		Outcome:              string(b.Outcome),
		Version:              b.Version,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}
}

func (r instanceRow) toDomain() domain.BattleInstance {
	b := domain.BattleInstance{
		ID:                   r.ID,
		TemplateID:           r.TemplateID,
		ClassID:              r.ClassID,
		Status:               domain.BattleStatus(r.Status),
		LateJoinPolicy:       domain.LateJoinPolicy(r.LateJoinPolicy),
		MaxHP:                r.MaxHP,
		CurrentHP:            r.CurrentHP,
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		DamageAggregation:    domain.DamageAggregation(r.DamageAggregation),
		GuildMaxHP:           r.GuildMaxHP,
		GuildHP:              r.GuildHP,
		Round:                r.Round,
		Scores:               r.Scores,
		QuestionDeadline:     r.QuestionDeadline,
		Outcome:              domain.Outcome(r.Outcome),
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	b.EnsureMaps()
	return b
}

type participantRow struct {
	bun.BaseModel `bun:"table:boss_participants,alias:bp"`

	InstanceID string    `bun:"boss_instance_id,pk"`
	StudentID  string    `bun:"student_id,pk"`
	ClassID    string    `bun:"class_id,notnull"`
	GuildID    string    `bun:"guild_id,notnull"`
	State      string    `bun:"state,notnull"`
	JoinedAt   time.Time `bun:"joined_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func participantRowFrom(p domain.Participant) participantRow {
	return participantRow{
		InstanceID: p.InstanceID,
		StudentID:  p.StudentID,
		ClassID:    p.ClassID,
		GuildID:    p.GuildID,
		State:      string(p.State),
		JoinedAt:   p.JoinedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func (r participantRow) toDomain() domain.Participant {
	return domain.Participant{
		InstanceID: r.InstanceID,
		StudentID:  r.StudentID,
		ClassID:    r.ClassID,
		GuildID:    r.GuildID,
		State:      domain.ParticipantState(r.State),
		JoinedAt:   r.JoinedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
