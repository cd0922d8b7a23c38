package app_test

import (
	"context"
	"errors"
	"testing"

	"classquest-battle/internal/app"
	"classquest-battle/internal/domain"
	"classquest-battle/internal/infra/memory"
)

func TestRegistryJoinUpserts(t *testing.T) {
	reg := app.NewParticipantRegistry(memory.NewParticipantStore())
	ctx := context.Background()

	p, err := reg.Join(ctx, "b1", "s1", "c1", "red")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.State != domain.ParticipantJoined {
		t.Fatalf("expected JOINED, got %s", p.State)
	}
	if _, err := reg.MarkSpectate(ctx, "b1", "s1"); err != nil {
		t.Fatalf("mark spectate: %v", err)
	}
	again, err := reg.Join(ctx, "b1", "s1", "c1", "blue")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.State != domain.ParticipantSpectate || again.GuildID != "blue" {
		t.Fatalf("rejoin must keep SPECTATE and refresh guild, got %+v", again)
	}
	members, _ := reg.MembersOf(ctx, "b1")
	if len(members) != 1 {
		t.Fatalf("expected one member, got %d", len(members))
	}
}

func TestRegistryRejectsBadIDs(t *testing.T) {
	reg := app.NewParticipantRegistry(memory.NewParticipantStore())
	for _, ids := range [][4]string{
		{"", "s1", "c1", "red"},
		{"b1", "\t", "c1", "red"},
		{"b1", "s1", "c\n1", "red"},
		{"b1", "s1", "c1", "r\uFFFD"},
	} {
		if _, err := reg.Join(context.Background(), ids[0], ids[1], ids[2], ids[3]); !errors.Is(err, domain.ErrInvalidJoinInput) {
			t.Fatalf("%q: expected ErrInvalidJoinInput, got %v", ids, err)
		}
	}
}

func TestRegistryMarkSpectateUnknown(t *testing.T) {
	reg := app.NewParticipantRegistry(memory.NewParticipantStore())
	if _, err := reg.MarkSpectate(context.Background(), "b1", "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.Participant(context.Background(), "b1", "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
