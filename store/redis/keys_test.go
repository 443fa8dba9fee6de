package redis

import "testing"

func TestKeyNaming(t *testing.T) {
	if got := sessionKey("sess_01abc"); got != "colloquy:session:sess_01abc" {
		t.Errorf("sessionKey = %q", got)
	}
	if got := messagesKey("sess_01abc"); got != "colloquy:messages:sess_01abc" {
		t.Errorf("messagesKey = %q", got)
	}
	if got := taskKey("task_01abc"); got != "colloquy:task:task_01abc" {
		t.Errorf("taskKey = %q", got)
	}
	if sessionIDsKey != "colloquy:session_ids" {
		t.Errorf("sessionIDsKey = %q", sessionIDsKey)
	}
}
