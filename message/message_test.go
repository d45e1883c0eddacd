package message

import (
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "Hello, world!")

	if msg.Role != RoleUser {
		t.Errorf("Expected role %s, got %s", RoleUser, msg.Role)
	}

	if msg.Content != "Hello, world!" {
		t.Errorf("Expected content 'Hello, world!', got '%s'", msg.Content)
	}

	if msg.ID == "" {
		t.Error("Expected non-empty ID")
	}

	if msg.CreatedAt.IsZero() {
		t.Error("Expected non-zero created time")
	}
}

func TestCloneCopiesImage(t *testing.T) {
	msg := NewImageMessage("look", []byte{1, 2, 3}, "image/png")
	cloned := Clone(msg)

	cloned.Image.Data[0] = 9
	if msg.Image.Data[0] != 1 {
		t.Errorf("Expected clone to own its image bytes, original changed to %d", msg.Image.Data[0])
	}
	if cloned.Image.MIMEType != "image/png" {
		t.Errorf("Expected mime image/png, got %s", cloned.Image.MIMEType)
	}
	if Clone(nil) != nil {
		t.Error("Expected Clone(nil) to return nil")
	}
}

func TestLastUser(t *testing.T) {
	msgs := []*Message{
		NewMessage(RoleUser, "first"),
		NewMessage(RoleAssistant, "reply"),
		NewMessage(RoleUser, "second"),
		NewMessage(RoleAssistant, "reply again"),
	}
	if got := LastUser(msgs); got == nil || got.Content != "second" {
		t.Errorf("Expected last user message 'second', got %+v", got)
	}
	if LastUser([]*Message{NewMessage(RoleAssistant, "x")}) != nil {
		t.Error("Expected nil when no user message exists")
	}
}

func TestTranscript(t *testing.T) {
	msgs := []*Message{
		NewMessage(RoleUser, "hi"),
		nil,
		NewMessage(RoleAssistant, "hello"),
	}
	want := "user: hi\nassistant: hello"
	if got := Transcript(msgs); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleUser.Valid() || !RoleAssistant.Valid() {
		t.Error("Expected user and assistant roles to be valid")
	}
	if Role("system").Valid() {
		t.Error("Expected system role to be rejected")
	}
}
