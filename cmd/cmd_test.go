package cmd

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestCommandsAreRegistered(t *testing.T) {
	for _, name := range []string{"create", "join", "serve"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, c, err)
		}
	}
}

func TestMeetingFlagsBecomeOptions(t *testing.T) {
	var f meetingFlags
	c := &cobra.Command{Use: "join"}
	f.register(c)

	err := c.ParseFlags([]string{
		"--domain", "relay.example", "--stun", "stun:a.example:3478,stun:b.example:3478",
		"--codec", "msgpack", "--debounce", "250ms", "-n", "alice", "--role", "co-host",
		"--headless", "--screen-for", "5s",
	})
	if err != nil {
		t.Fatal(err)
	}

	opts := f.options()
	if opts.Domain != "relay.example" || opts.Codec != "msgpack" || opts.Name != "alice" || opts.Role != "co-host" {
		t.Fatalf("options = %+v", opts)
	}
	if len(opts.STUNServers) != 2 || opts.Debounce != 250*time.Millisecond {
		t.Fatalf("stun = %v, debounce = %v", opts.STUNServers, opts.Debounce)
	}
	if !f.headless || f.screenFor != 5*time.Second || f.noCamera {
		t.Fatalf("flags = %+v", f)
	}
}

func TestMeetingFlagsInitialMediaState(t *testing.T) {
	tests := []struct {
		args       []string
		muted, off bool
	}{
		{nil, false, false},
		{[]string{"--muted"}, true, false},
		{[]string{"--video-off"}, false, true},
		{[]string{"--no-camera"}, true, true},
	}
	for _, tt := range tests {
		var f meetingFlags
		c := &cobra.Command{Use: "join"}
		f.register(c)
		if err := c.ParseFlags(tt.args); err != nil {
			t.Fatal(err)
		}
		patch := f.initialState()
		if patch.IsAudioMuted == nil || patch.IsVideoOff == nil {
			t.Fatalf("%v: initial state = %+v, want both flags set", tt.args, patch)
		}
		if *patch.IsAudioMuted != tt.muted || *patch.IsVideoOff != tt.off {
			t.Errorf("%v: muted = %v, video off = %v", tt.args, *patch.IsAudioMuted, *patch.IsVideoOff)
		}
	}
}
