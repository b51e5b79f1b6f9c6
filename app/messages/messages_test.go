package messages

import (
	"strings"
	"testing"
	"time"

	"github.com/ourgoal/teambot/app/store"
)

// The admin card is re-sent through HTML parse mode when a decision edits
// it in place, so answers containing markup characters must stay escaped.
func TestAdminNotificationEscapesAnswers(t *testing.T) {
	u := store.User{ID: 7, FirstName: "Omar", Username: "omar"}
	app := store.Application{
		ID:          "7-1",
		UserID:      7,
		TeamID:      "design",
		TeamName:    "تيم التصميم",
		Reason:      "أجيد <b>التصميم</b> بشرط a < b",
		Experience:  "عملت على <script> و قوالب جاهزة",
		Status:      store.StatusPending,
		SubmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	card := AdminNotification(u, app)
	for _, raw := range []string{"<script>", "<b>التصميم"} {
		if strings.Contains(card, raw) {
			t.Fatalf("raw markup leaked into the card: %q", raw)
		}
	}
	if !strings.Contains(card, "&lt;script&gt;") {
		t.Fatal("answer text must be entity-escaped")
	}
	if !strings.Contains(card, "تيم التصميم") {
		t.Fatal("card must still carry the team name")
	}
}
