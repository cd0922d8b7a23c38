package app_test

import (
	"errors"
	"testing"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
)

func TestCanTransition(t *testing.T) {
	allowed := map[domain.BattleStatus][]domain.BattleStatus{
		domain.StatusDraft:          {domain.StatusLobby, domain.StatusAborted},
		domain.StatusLobby:          {domain.StatusCountdown, domain.StatusAborted},
		domain.StatusCountdown:      {domain.StatusQuestionActive, domain.StatusAborted},
		domain.StatusQuestionActive: {domain.StatusResolving, domain.StatusAborted},
		domain.StatusResolving:      {domain.StatusIntermission, domain.StatusCompleted, domain.StatusAborted},
		domain.StatusIntermission:   {domain.StatusQuestionActive, domain.StatusAborted},
	}
	for _, from := range domain.AllStatuses() {
		for _, to := range domain.AllStatuses() {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			if got := app.CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestDecideJoin(t *testing.T) {
	for _, status := range domain.AllStatuses() {
		for _, policy := range []domain.LateJoinPolicy{domain.LateJoinAllowSpectate, domain.LateJoinReject} {
			decision, err := app.DecideJoin(status, policy)
			switch {
			case status == domain.StatusLobby:
				if err != nil || decision != app.JoinAsPlayer {
					t.Fatalf("%s/%s: expected player, got %v %v", status, policy, decision, err)
				}
			case status.InProgress() && policy == domain.LateJoinAllowSpectate:
				if err != nil || decision != app.JoinAsSpectator {
					t.Fatalf("%s/%s: expected spectator, got %v %v", status, policy, decision, err)
				}
			case status.InProgress():
				if !errors.Is(err, domain.ErrLateJoinRejected) {
					t.Fatalf("%s/%s: expected rejection, got %v", status, policy, err)
				}
			case status.Terminal():
				if !errors.Is(err, domain.ErrBattleClosed) {
					t.Fatalf("%s/%s: expected closed, got %v", status, policy, err)
				}
			default:
				var phase *domain.PhaseError
				if !errors.As(err, &phase) || phase.Status != status {
					t.Fatalf("%s/%s: expected phase error, got %v", status, policy, err)
				}
			}
		}
	}
}
