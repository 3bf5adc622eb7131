package rdp

import (
	"strings"
	"testing"
)

func TestArgs_Desktop(t *testing.T) {
	s := &Session{
		Host:      "127.0.0.1",
		Port:      3389,
		Username:  "Docker",
		Password:  "secret",
		Clipboard: true,
	}
	args := strings.Join(s.Args(), " ")

	for _, want := range []string{"/v:127.0.0.1:3389", "/u:Docker", "/p:secret", "/cert:ignore", "+clipboard", "/dynamic-resolution"} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
	if strings.Contains(args, "/app:") {
		t.Errorf("desktop session got RemoteApp flag: %s", args)
	}
}

func TestArgs_RemoteApp(t *testing.T) {
	s := &Session{
		Host:     "127.0.0.1",
		Port:     3389,
		Username: "Docker",
		Password: "pw",
		AppPath:  `C:\Windows\notepad.exe`,
		AppName:  "Notepad",
		Sound:    true,
		Scale:    140,
	}
	args := strings.Join(s.Args(), " ")

	if !strings.Contains(args, `/app:program:C:\Windows\notepad.exe,name:Notepad`) {
		t.Errorf("args missing RemoteApp spec: %s", args)
	}
	if !strings.Contains(args, "/sound") || !strings.Contains(args, "/scale:140") {
		t.Errorf("args missing options: %s", args)
	}
	if strings.Contains(args, "/dynamic-resolution") {
		t.Errorf("RemoteApp session got desktop flag: %s", args)
	}
}

func TestNewLauncher_DefaultBin(t *testing.T) {
	if l := NewLauncher(""); l.bin != ClientBin {
		t.Errorf("bin = %q, want %q", l.bin, ClientBin)
	}
	if l := NewLauncher("xfreerdp3"); l.bin != "xfreerdp3" {
		t.Errorf("bin = %q", l.bin)
	}
}
