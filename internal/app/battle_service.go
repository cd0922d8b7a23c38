package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"classquest-battle/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 8
	defaultGuildMaxHP  = 100
)

var errUnchanged = errors.New("instance unchanged")

// BattleService runs the boss-battle state machine. Every mutation of an
// instance is read, decided and committed against the version that was read,
// so concurrent writers re-decide instead of overwriting each other.
type BattleService struct {
	bank       *QuestionBank
	registry   *ParticipantRegistry
	instances  InstanceStore
	enrollment EnrollmentChecker
	feed       *Feed
	log        *zap.Logger
	metrics    Recorder
	now        Clock

	maxAttempts int
	guildMaxHP  int
}

// Option configures a BattleService.
type Option func(*BattleService)

func WithLogger(log *zap.Logger) Option {
	return func(s *BattleService) {
		if log != nil {
			s.log = log
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *BattleService) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithClock is used by tests for deterministic deadlines.
func WithClock(now Clock) Option {
	return func(s *BattleService) {
		if now != nil {
			s.now = now
			s.bank.now = now
			s.registry.now = now
		}
	}
}

func WithFeed(feed *Feed) Option {
	return func(s *BattleService) {
		if feed != nil {
			s.feed = feed
		}
	}
}

// WithMaxAttempts bounds the retries of a mutation that keeps losing the
// version race.
func WithMaxAttempts(n int) Option {
	return func(s *BattleService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithGuildMaxHP sets the HP pool each guild starts with.
func WithGuildMaxHP(hp int) Option {
	return func(s *BattleService) {
		if hp > 0 {
			s.guildMaxHP = hp
		}
	}
}

func NewBattleService(bank *QuestionBank, registry *ParticipantRegistry, instances InstanceStore, enrollment EnrollmentChecker, opts ...Option) *BattleService {
	s := &BattleService{
		bank:        bank,
		registry:    registry,
		instances:   instances,
		enrollment:  enrollment,
		feed:        NewFeed(),
		log:         zap.NewNop(),
		metrics:     nopRecorder{},
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		guildMaxHP:  defaultGuildMaxHP,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstanceSpec describes a battle to create from a template.
type InstanceSpec struct {
	TemplateID     string                `json:"bossTemplateId"`
	ClassID        string                `json:"classId"`
	LateJoinPolicy domain.LateJoinPolicy `json:"lateJoinPolicy"`
	GuildMaxHP     int                   `json:"guildMaxHp"`
}

// CreateInstance creates a DRAFT instance with the template's full HP.
func (s *BattleService) CreateInstance(ctx context.Context, spec InstanceSpec) (domain.BattleInstance, error) {
	if err := validateID(spec.ClassID); err != nil {
		return domain.BattleInstance{}, fmt.Errorf("%w: class_id %v", domain.ErrInvalidJoinInput, err)
	}
	tpl, err := s.bank.Template(ctx, spec.TemplateID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	policy := spec.LateJoinPolicy
	if policy == "" {
		policy = domain.LateJoinReject
	}
	guildHP := spec.GuildMaxHP
	if guildHP <= 0 {
		guildHP = s.guildMaxHP
	}
	now := s.now()
	inst := domain.BattleInstance{
		ID:                uuid.NewString(),
		TemplateID:        tpl.ID,
		ClassID:           spec.ClassID,
		Status:            domain.StatusDraft,
		LateJoinPolicy:    policy,
		MaxHP:             tpl.MaxHP,
		CurrentHP:         tpl.MaxHP,
		DamageAggregation: tpl.DamageAggregation.OrDefault(),
		GuildMaxHP:        guildHP,
		GuildHP:           make(map[string]int),
		Scores:            make(map[string]domain.StudentScore),
		Round:             domain.NewRound(""),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.instances.CreateInstance(ctx, inst); err != nil {
		return domain.BattleInstance{}, s.internal("create instance", err)
	}
	s.log.Info("battle instance created",
		zap.String("instance_id", inst.ID),
		zap.String("template_id", inst.TemplateID),
		zap.String("class_id", inst.ClassID),
		zap.String("late_join_policy", string(policy)))
	return inst, nil
}

// Instance returns the current state of an instance.
func (s *BattleService) Instance(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	inst, err := s.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.BattleInstance{}, s.internal("get instance", err)
	}
	return inst, nil
}

// Snapshot returns the client view of an instance.
func (s *BattleService) Snapshot(ctx context.Context, instanceID string) (domain.Snapshot, error) {
	inst, err := s.Instance(ctx, instanceID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return SnapshotOf(inst), nil
}

// Subscribe streams snapshots of an instance. The caller must invoke the
// returned cancel function.
func (s *BattleService) Subscribe(ctx context.Context, instanceID string) (<-chan domain.Snapshot, func(), error) {
	snap, err := s.Snapshot(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.feed.Subscribe(instanceID, snap)
	return ch, cancel, nil
}

// QuestionsForTemplate exposes the ordered question list of a template.
func (s *BattleService) QuestionsForTemplate(ctx context.Context, templateID string) ([]domain.Question, error) {
	if _, err := s.bank.Template(ctx, templateID); err != nil {
		return nil, err
	}
	return s.bank.QuestionsForTemplate(ctx, templateID)
}

// ActiveQuestion returns the question students are answering right now.
func (s *BattleService) ActiveQuestion(ctx context.Context, instanceID string) (domain.Question, error) {
	inst, err := s.Instance(ctx, instanceID)
	if err != nil {
		return domain.Question{}, err
	}
	if inst.Status != domain.StatusQuestionActive {
		return domain.Question{}, &domain.PhaseError{Status: inst.Status, Action: "show question"}
	}
	q, _, err := s.bank.Question(ctx, inst.TemplateID, inst.Round.QuestionID)
	return q, err
}

// Participant returns one student's record in an instance.
func (s *BattleService) Participant(ctx context.Context, instanceID, studentID string) (domain.Participant, error) {
	return s.registry.Participant(ctx, instanceID, studentID)
}

// MembersOf lists the participants of an instance.
func (s *BattleService) MembersOf(ctx context.Context, instanceID string) ([]domain.Participant, error) {
	return s.registry.MembersOf(ctx, instanceID)
}

// Join admits a student to a battle. In the lobby the student joins as a
// player; once the lobby has closed the late-join policy either demotes the
// student to spectator or rejects the request. The admission decision is
// committed as a versioned claim on the instance so a join that raced a
// phase change is re-decided against the new phase.
func (s *BattleService) Join(ctx context.Context, instanceID, studentID, classID, guildID string) (result domain.JoinResult, err error) {
	defer func() { s.metrics.JoinHandled(joinOutcome(result, err)) }()

	if err := validateJoinIDs(instanceID, studentID, classID, guildID); err != nil {
		return domain.JoinResult{}, err
	}
	inst, err := s.Instance(ctx, instanceID)
	if err != nil {
		return domain.JoinResult{}, err
	}
	// fail fast before consulting enrollment
	if _, err := DecideJoin(inst.Status, inst.LateJoinPolicy); err != nil {
		return domain.JoinResult{}, err
	}
	if classID != inst.ClassID {
		return domain.JoinResult{}, fmt.Errorf("%w: battle belongs to class %s", domain.ErrNotEnrolled, inst.ClassID)
	}
	enrolled, err := s.enrollment.IsEnrolled(ctx, inst.ClassID, studentID)
	if err != nil {
		return domain.JoinResult{}, s.internal("check enrollment", err)
	}
	if !enrolled {
		return domain.JoinResult{}, fmt.Errorf("%w: %s in %s", domain.ErrNotEnrolled, studentID, inst.ClassID)
	}

	var decision JoinDecision
	_, err = s.mutate(ctx, "join", instanceID, func(next *domain.BattleInstance) error {
		d, err := DecideJoin(next.Status, next.LateJoinPolicy)
		if err != nil {
			return err
		}
		decision = d
		if d == JoinAsPlayer {
			if _, ok := next.GuildHP[guildID]; !ok {
				next.GuildHP[guildID] = next.GuildMaxHP
			}
		}
		return nil
	})
	if err != nil {
		return domain.JoinResult{}, err
	}

	participant, err := s.registry.Join(ctx, instanceID, studentID, classID, guildID)
	if err != nil {
		return domain.JoinResult{}, err
	}
	if decision == JoinAsSpectator && participant.State != domain.ParticipantSpectate {
		participant, err = s.registry.MarkSpectate(ctx, instanceID, studentID)
		if err != nil {
			s.log.Warn("demote to spectator failed, participant left joined",
				zap.String("instance_id", instanceID),
				zap.String("student_id", studentID),
				zap.Error(err))
			return domain.JoinResult{}, err
		}
	}

	s.log.Debug("participant joined",
		zap.String("instance_id", instanceID),
		zap.String("student_id", studentID),
		zap.String("guild_id", guildID),
		zap.String("state", string(participant.State)))
	return domain.JoinResult{
		Participant: participant,
		State:       participant.State,
		Spectator:   participant.State == domain.ParticipantSpectate,
	}, nil
}

// SubmitAnswer grades a student's answer to the active question and applies
// its damage and reward to the instance.
func (s *BattleService) SubmitAnswer(ctx context.Context, instanceID, questionID, studentID string, raw json.RawMessage) (outcome domain.AnswerOutcome, err error) {
	defer func() { s.metrics.AnswerGraded(answerOutcomeLabel(outcome, err), outcome.BossDamage, outcome.GuildDamage) }()

	inst, err := s.Instance(ctx, instanceID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if inst.Status.Terminal() {
		return domain.AnswerOutcome{}, fmt.Errorf("%w: battle is %s", domain.ErrBattleClosed, inst.Status)
	}
	tpl, err := s.bank.Template(ctx, inst.TemplateID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	q, index, err := s.bank.Question(ctx, inst.TemplateID, questionID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	answer, err := domain.ParseAnswer(q.Type, raw)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if err := q.CheckChoices(answer); err != nil {
		return domain.AnswerOutcome{}, err
	}
	participant, err := s.registry.Participant(ctx, instanceID, studentID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if participant.State != domain.ParticipantJoined {
		return domain.AnswerOutcome{}, domain.ErrSpectating
	}

	guilds, err := s.playerGuilds(ctx, instanceID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	resolver := NewDamageResolver(q, tpl, inst.DamageAggregation)
	sub := domain.AnswerSubmission{
		StudentID:  studentID,
		GuildID:    participant.GuildID,
		QuestionID: q.ID,
		Answer:     answer,
	}
	next, err := s.mutate(ctx, "answer", instanceID, func(next *domain.BattleInstance) error {
		if next.Status.Terminal() {
			return fmt.Errorf("%w: battle is %s", domain.ErrBattleClosed, next.Status)
		}
		if next.Status != domain.StatusQuestionActive {
			return &domain.PhaseError{Status: next.Status, Action: "answer"}
		}
		if next.CurrentQuestionIndex != index || next.Round.QuestionID != q.ID {
			return &domain.PhaseError{Status: next.Status, Action: "answer question " + q.ID + " that is not active"}
		}
		now := s.now()
		if questionExpired(*next, now) {
			return &domain.PhaseError{Status: next.Status, Action: "answer after the time limit"}
		}
		if next.Round.Attempts[studentID].Correct {
			return domain.ErrAlreadyAnswered
		}
		o, err := resolver.Apply(q, &next.Round, sub)
		if err != nil {
			return err
		}
		applyOutcome(next, guilds, sub, o, now)
		outcome = o
		return nil
	})
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	outcome.BossHP = next.CurrentHP
	outcome.Status = next.Status
	if next.Status == domain.StatusResolving {
		s.log.Info("question resolved by answer",
			zap.String("instance_id", instanceID),
			zap.String("question_id", q.ID),
			zap.Int("boss_hp", next.CurrentHP))
	}
	return outcome, nil
}

func applyOutcome(inst *domain.BattleInstance, guilds []string, sub domain.AnswerSubmission, o domain.AnswerOutcome, now time.Time) {
	if o.BossDamage > 0 {
		inst.CurrentHP = nonNegative(inst.CurrentHP - o.BossDamage)
	}
	if o.GuildDamage > 0 {
		hp, ok := inst.GuildHP[sub.GuildID]
		if !ok {
			hp = inst.GuildMaxHP
		}
		inst.GuildHP[sub.GuildID] = nonNegative(hp - o.GuildDamage)
	}

	score := inst.Scores[sub.StudentID]
	score.StudentID = sub.StudentID
	score.GuildID = sub.GuildID
	score.XP += o.RewardXP
	score.Gold += o.RewardGold
	score.Damage += o.BossDamage
	switch {
	case o.Correct:
		score.Correct++
	case !o.Pending:
		score.Wrong++
	}
	score.LastUpdated = now
	inst.Scores[sub.StudentID] = score

	if inst.CurrentHP == 0 || inst.AllGuildsDown(guilds) {
		inst.Status = domain.StatusResolving
		inst.QuestionDeadline = nil
	}
}

// Launch opens the lobby of a drafted battle.
func (s *BattleService) Launch(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	return s.mutate(ctx, "launch", instanceID, func(next *domain.BattleInstance) error {
		if err := checkTransition(*next, domain.StatusLobby, "launch"); err != nil {
			return err
		}
		next.Status = domain.StatusLobby
		return nil
	})
}

// StartCountdown closes the lobby.
func (s *BattleService) StartCountdown(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	inst, err := s.Instance(ctx, instanceID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	questions, err := s.bank.QuestionsForTemplate(ctx, inst.TemplateID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	return s.mutate(ctx, "countdown", instanceID, func(next *domain.BattleInstance) error {
		if err := checkTransition(*next, domain.StatusCountdown, "start countdown"); err != nil {
			return err
		}
		if len(questions) == 0 {
			return fmt.Errorf("%w: template %s has no questions", domain.ErrInvalidTemplate, next.TemplateID)
		}
		next.Status = domain.StatusCountdown
		return nil
	})
}

// StartQuestion activates the first question after the countdown or the
// next one after an intermission.
func (s *BattleService) StartQuestion(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	inst, err := s.Instance(ctx, instanceID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	questions, err := s.bank.QuestionsForTemplate(ctx, inst.TemplateID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	return s.mutate(ctx, "start question", instanceID, func(next *domain.BattleInstance) error {
		if err := checkTransition(*next, domain.StatusQuestionActive, "start question"); err != nil {
			return err
		}
		index := 0
		if next.Status == domain.StatusIntermission {
			index = next.CurrentQuestionIndex + 1
		}
		if index >= len(questions) {
			return &domain.PhaseError{Status: next.Status, Action: "start question past the last one"}
		}
		enterQuestion(next, questions[index], index, s.now())
		return nil
	})
}

// CloseQuestion ends the answer window of the active question.
func (s *BattleService) CloseQuestion(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	return s.mutate(ctx, "close question", instanceID, func(next *domain.BattleInstance) error {
		if err := checkTransition(*next, domain.StatusResolving, "close question"); err != nil {
			return err
		}
		next.Status = domain.StatusResolving
		next.QuestionDeadline = nil
		return nil
	})
}

// ExpireQuestion closes the active question if its time limit has passed.
// It reports whether the instance moved to RESOLVING.
func (s *BattleService) ExpireQuestion(ctx context.Context, instanceID string) (bool, error) {
	expired := false
	_, err := s.mutate(ctx, "expire question", instanceID, func(next *domain.BattleInstance) error {
		if next.Status != domain.StatusQuestionActive || !questionExpired(*next, s.now()) {
			return errUnchanged
		}
		next.Status = domain.StatusResolving
		next.QuestionDeadline = nil
		expired = true
		return nil
	})
	return expired, err
}

// Advance leaves RESOLVING for the next intermission or completes the battle.
func (s *BattleService) Advance(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	inst, err := s.Instance(ctx, instanceID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	questions, err := s.bank.QuestionsForTemplate(ctx, inst.TemplateID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	guilds, err := s.playerGuilds(ctx, instanceID)
	if err != nil {
		return domain.BattleInstance{}, err
	}
	return s.mutate(ctx, "advance", instanceID, func(next *domain.BattleInstance) error {
		if err := checkTransition(*next, domain.StatusCompleted, "advance"); err != nil {
			return err
		}
		status, outcome := resolveNext(*next, guilds, len(questions))
		next.Status = status
		next.Outcome = outcome
		return nil
	})
}

// Abort ends a battle for good. Later joins and answers fail with BattleClosed.
func (s *BattleService) Abort(ctx context.Context, instanceID string) (domain.BattleInstance, error) {
	return s.mutate(ctx, "abort", instanceID, func(next *domain.BattleInstance) error {
		if err := checkTransition(*next, domain.StatusAborted, "abort"); err != nil {
			return err
		}
		next.Status = domain.StatusAborted
		next.QuestionDeadline = nil
		return nil
	})
}

// playerGuilds lists the guilds that have at least one JOINED participant.
// A student who switched guilds in the lobby no longer counts for the old one.
func (s *BattleService) playerGuilds(ctx context.Context, instanceID string) ([]string, error) {
	members, err := s.registry.MembersOf(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(members))
	guilds := make([]string, 0, len(members))
	for _, p := range members {
		if p.State != domain.ParticipantJoined || seen[p.GuildID] {
			continue
		}
		seen[p.GuildID] = true
		guilds = append(guilds, p.GuildID)
	}
	sort.Strings(guilds)
	return guilds, nil
}

// mutate runs fn against a fresh copy of the instance and commits the result
// if nobody else committed in between, retrying otherwise.
func (s *BattleService) mutate(ctx context.Context, op, instanceID string, fn func(next *domain.BattleInstance) error) (domain.BattleInstance, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return domain.BattleInstance{}, s.internal(op, err)
		}
		next := current.Clone()
		next.EnsureMaps()
		if err := fn(&next); err != nil {
			if errors.Is(err, errUnchanged) {
				return current, nil
			}
			return domain.BattleInstance{}, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = s.now()

		err = s.instances.SaveInstance(ctx, next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			s.metrics.Conflict(op)
			s.log.Debug("instance version conflict, retrying",
				zap.String("op", op),
				zap.String("instance_id", instanceID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return domain.BattleInstance{}, s.internal(op, err)
		}

		if current.Status != next.Status {
			s.metrics.Transition(current.Status, next.Status)
			s.log.Info("battle transition",
				zap.String("instance_id", instanceID),
				zap.String("from", string(current.Status)),
				zap.String("to", string(next.Status)),
				zap.String("outcome", string(next.Outcome)))
		}
		s.feed.Publish(SnapshotOf(next))
		return next, nil
	}
	return domain.BattleInstance{}, s.internal(op, fmt.Errorf("gave up after %d attempts: %w", s.maxAttempts, domain.ErrVersionConflict))
}

// internal logs storage failures and hides them behind InternalError.
// Domain errors pass through untouched.
func (s *BattleService) internal(op string, err error) error {
	if domain.IsDomainError(err) {
		return err
	}
	s.log.Error("battle store failure", zap.String("op", op), zap.Error(err))
	var ie *domain.InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &domain.InternalError{Op: op, Err: err}
}

func joinOutcome(result domain.JoinResult, err error) string {
	if err == nil {
		return string(result.State)
	}
	return ErrorCode(err)
}

func answerOutcomeLabel(outcome domain.AnswerOutcome, err error) string {
	switch {
	case err != nil:
		return ErrorCode(err)
	case outcome.Pending:
		return "pending"
	case outcome.Correct:
		return "correct"
	default:
		return "incorrect"
	}
}

// ErrorCode maps an error to the stable code clients render messages from.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidJoinInput):
		return "invalid_join_input"
	case errors.Is(err, domain.ErrLateJoinRejected):
		return "late_join_rejected"
	case errors.Is(err, domain.ErrBattleClosed):
		return "battle_closed"
	case errors.Is(err, domain.ErrInvalidBattlePhase):
		return "invalid_battle_phase"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidQuestion):
		return "invalid_question"
	case errors.Is(err, domain.ErrInvalidTemplate):
		return "invalid_template"
	case errors.Is(err, domain.ErrInvalidAnswerShape):
		return "invalid_answer_shape"
	case errors.Is(err, domain.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, domain.ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, domain.ErrSpectating):
		return "spectating"
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return "already_answered"
	default:
		return "internal"
	}
}
