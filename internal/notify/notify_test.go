package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hochfrequenz/claude-automations/internal/domain"
)

func TestSlackNotifier_Send(t *testing.T) {
	// Mock Slack server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Test",
		Message: "Test message",
		Type:    NotifyInfo,
	})

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestSlackNotifier_DisabledWithoutURL(t *testing.T) {
	notifier := NewSlackNotifier("")
	if err := notifier.Send(Notification{Title: "x"}); err != nil {
		t.Errorf("Send with empty webhook = %v, want nil", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

func TestForRun(t *testing.T) {
	completed := &domain.Run{
		ID:      "r1",
		Status:  domain.RunCompleted,
		Result:  "long result text",
		Summary: "short summary",
	}
	n := ForRun("Nightly Review", completed)
	if n.Type != NotifySuccess {
		t.Errorf("Type = %v, want success", n.Type)
	}
	if n.Message != "short summary" {
		t.Errorf("Message = %q, want summary preferred", n.Message)
	}
	if !strings.Contains(n.Title, "Nightly Review") {
		t.Errorf("Title = %q", n.Title)
	}

	failed := &domain.Run{ID: "r2", Status: domain.RunFailed, Error: "run timed out after 30m"}
	n = ForRun("Nightly Review", failed)
	if n.Type != NotifyError {
		t.Errorf("Type = %v, want error", n.Type)
	}
	if n.Message != "run timed out after 30m" {
		t.Errorf("Message = %q", n.Message)
	}

	// Long messages get capped
	long := &domain.Run{ID: "r3", Status: domain.RunFailed, Error: strings.Repeat("e", 1000)}
	n = ForRun("x", long)
	if len(n.Message) > 310 {
		t.Errorf("Message length = %d, want capped", len(n.Message))
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
