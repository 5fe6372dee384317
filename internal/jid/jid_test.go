package jid

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		group   bool
	}{
		{"1234567890@s.whatsapp.net", false, false},
		{"120363000000000000@g.us", false, true},
		{"abc@s.whatsapp.net", true, false},
		{"1234567890@lid", true, false},
		{"1234567890", true, false},
		{"", true, false},
	}
	for _, tt := range tests {
		j, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && j.String() != tt.in {
			t.Errorf("Parse(%q).String() = %q", tt.in, j.String())
		}
		if IsGroup(tt.in) != tt.group {
			t.Errorf("IsGroup(%q) = %v, want %v", tt.in, !tt.group, tt.group)
		}
	}
}

func TestUser(t *testing.T) {
	if got := User("5511999@s.whatsapp.net"); got != "5511999" {
		t.Errorf("User = %q", got)
	}
	if got := User("plain"); got != "plain" {
		t.Errorf("User = %q", got)
	}
}
