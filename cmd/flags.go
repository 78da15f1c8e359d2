package cmd

import (
	"time"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/spf13/cobra"
)

// meetingFlags are shared by create and join.
type meetingFlags struct {
	configFile string
	domain     string
	wsURL      string
	stun       []string
	codec      string
	debounce   time.Duration
	name       string
	role       string

	headless  bool
	noCamera  bool
	muted     bool
	videoOff  bool
	screenFor time.Duration
}

func (f *meetingFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config", "", "Path to a YAML config file")
	flags.StringVarP(&f.domain, "domain", "d", "", "Custom relay domain")
	flags.StringVar(&f.wsURL, "ws-url", "", "Relay WebSocket URL (overrides --domain)")
	flags.StringSliceVarP(&f.stun, "stun", "s", nil, "STUN server URLs")
	flags.StringVar(&f.codec, "codec", "", "Wire codec: json or msgpack")
	flags.DurationVar(&f.debounce, "debounce", 0, "Delay between a negotiation trigger and the offer")
	flags.StringVarP(&f.name, "name", "n", "", "Display name")
	flags.StringVar(&f.role, "role", "", "Requested role: host, co-host or participant")
	flags.BoolVar(&f.headless, "headless", false, "Run without the terminal board")
	flags.BoolVar(&f.noCamera, "no-camera", false, "Join without a camera stream")
	flags.BoolVar(&f.muted, "muted", false, "Join with the microphone muted")
	flags.BoolVar(&f.videoOff, "video-off", false, "Join with the camera video off")
	flags.DurationVar(&f.screenFor, "screen-for", 0, "End each synthetic screen share after this long")
}

func (f *meetingFlags) options() config.Options {
	return config.Options{
		ConfigFile:   f.configFile,
		Domain:       f.domain,
		WebSocketURL: f.wsURL,
		STUNServers:  f.stun,
		Codec:        f.codec,
		Debounce:     f.debounce,
		Name:         f.name,
		Role:         f.role,
	}
}

// media is the initial microphone and camera state. Without a camera
// both start off.
func (f *meetingFlags) media() (audioMuted, videoOff bool) {
	return f.muted || f.noCamera, f.videoOff || f.noCamera
}

func (f *meetingFlags) initialState() roster.Patch {
	return roster.Media(f.media())
}
