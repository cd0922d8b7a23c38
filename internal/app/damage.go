package app

import (
	"fmt"

	"classquest-battle/internal/domain"
)

// EligibleReward returns the XP and gold a correct answer is worth after
// wrong prior attempts. Decay-exempt questions always pay the base values.
func EligibleReward(cfg domain.RewardConfig, wrong int) (xp, gold int) {
	if cfg.DecayExempt {
		return nonNegative(cfg.BaseXP), nonNegative(cfg.BaseGold)
	}
	return decayed(cfg.BaseXP, cfg.MinXP, cfg.XPDecayPerWrong, wrong),
		decayed(cfg.BaseGold, cfg.MinGold, cfg.GoldDecayPerWrong, wrong)
}

func decayed(base, floor, perWrong, wrong int) int {
	if wrong < 0 {
		wrong = 0
	}
	value := base
	if perWrong > 0 && wrong > 0 {
		// past this many misses the floor is reached regardless
		if wrong > base/perWrong+1 {
			value = floor
		} else {
			value = base - wrong*perWrong
		}
	}
	if value < floor {
		value = floor
	}
	if value > base {
		value = base
	}
	return nonNegative(value)
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// rewardConfigFor falls back to the template's flat rewards when a question
// has no reward of its own.
func rewardConfigFor(q domain.Question, tpl domain.BossTemplate) domain.RewardConfig {
	if !q.Reward.IsZero() {
		return q.Reward
	}
	return domain.RewardConfig{
		BaseXP:   tpl.BaseXPReward,
		MinXP:    tpl.BaseXPReward,
		BaseGold: tpl.BaseGoldReward,
		MinGold:  tpl.BaseGoldReward,
	}
}

// DamageResolver turns answers to the active question into boss damage,
// guild damage and rewards. It holds no state; the answer history lives in
// the RoundState passed to it.
type DamageResolver struct {
	Policy domain.DamageAggregation
	Reward domain.RewardConfig
}

// NewDamageResolver builds a resolver for one question of a template.
func NewDamageResolver(q domain.Question, tpl domain.BossTemplate, policy domain.DamageAggregation) DamageResolver {
	return DamageResolver{Policy: policy.OrDefault(), Reward: rewardConfigFor(q, tpl)}
}

// Grade reports whether answer is correct for q. Questions that are not
// auto-gradable report pending.
func Grade(q domain.Question, answer domain.Answer) (correct, pending bool, err error) {
	if answer == nil || answer.Kind() != q.Type {
		return false, false, fmt.Errorf("%w: expected %s answer", domain.ErrInvalidAnswerShape, q.Type)
	}
	if err := q.CheckChoices(answer); err != nil {
		return false, false, err
	}
	if !q.AutoGradable || q.CorrectAnswer == nil {
		return false, true, nil
	}
	return domain.MatchAnswer(q.CorrectAnswer, answer), false, nil
}

// Apply folds one submission into round and returns its outcome. round must
// belong to q. Apply never fails for a well-shaped answer.
func (r DamageResolver) Apply(q domain.Question, round *domain.RoundState, sub domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	correct, pending, err := Grade(q, sub.Answer)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if round.Attempts == nil {
		round.Attempts = make(map[string]domain.GuildAttempt)
	}
	if round.GuildsHit == nil {
		round.GuildsHit = make(map[string]bool)
	}

	out := domain.AnswerOutcome{QuestionID: q.ID}
	attempt := round.Attempts[sub.StudentID]
	attempt.GuildID = sub.GuildID

	switch {
	case pending:
		attempt.Pending = true
		out.Pending = true
	case correct:
		attempt.Correct = true
		out.Correct = true
		out.RewardXP, out.RewardGold = EligibleReward(r.Reward, attempt.Wrong)
		if r.lands(round, sub.GuildID) {
			out.BossDamage = q.DamageToBossOnCorrect
		}
		round.AnyHit = true
		round.GuildsHit[sub.GuildID] = true
	default:
		attempt.Wrong++
		out.GuildDamage = q.DamageToGuildOnIncorrect
	}

	round.Attempts[sub.StudentID] = attempt
	round.BossDamage += out.BossDamage
	round.GuildDamage += out.GuildDamage
	return out, nil
}

func (r DamageResolver) lands(round *domain.RoundState, guildID string) bool {
	switch r.Policy {
	case domain.AggregateFirstCorrectOnly:
		return !round.AnyHit
	case domain.AggregateBestOf:
		return !round.GuildsHit[guildID]
	default:
		return true
	}
}

// BatchResult sums the outcomes of a batch of answers.
type BatchResult struct {
	Outcomes    []domain.AnswerOutcome
	BossDamage  int
	GuildDamage map[string]int
	Round       domain.RoundState
}

// ResolveBatch applies answers in order to a fresh round of q. Students who
// already answered correctly are skipped.
func (r DamageResolver) ResolveBatch(q domain.Question, answers []domain.AnswerSubmission) (BatchResult, error) {
	result := BatchResult{
		GuildDamage: make(map[string]int),
		Round:       domain.NewRound(q.ID),
	}
	for _, sub := range answers {
		if result.Round.Attempts[sub.StudentID].Correct {
			continue
		}
		out, err := r.Apply(q, &result.Round, sub)
		if err != nil {
			return BatchResult{}, err
		}
		result.Outcomes = append(result.Outcomes, out)
		result.BossDamage += out.BossDamage
		if out.GuildDamage > 0 {
			result.GuildDamage[sub.GuildID] += out.GuildDamage
		}
	}
	return result, nil
}
