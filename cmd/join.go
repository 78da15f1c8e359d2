package cmd

import (
	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/BioHazard786/warpmeet/internal/ui"
	"github.com/spf13/cobra"
)

var joinFlags meetingFlags

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join an existing meeting",
	Long: `Join a meeting room by its id or link.

Examples:
  warpmeet join brave-otter-biryani
  warpmeet join https://warpmeet.qzz.io/m/brave-otter-biryani
  warpmeet join brave-otter-biryani --headless --screen-for 30s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := config.ParseRoom(args[0])
		if err != nil {
			return err
		}
		cfg, err := LoadConfig(joinFlags.options())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		conn, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := conn.Client.JoinRoom(roomID, cfg.Name, roster.Role(cfg.Role), joinFlags.initialState()); err != nil {
			return signaling.NewError("join room", err)
		}
		welcome, err := conn.await(conn.Handler.Joined, "join room")
		if err != nil {
			return err
		}

		ui.PrintSuccess("Joined " + ui.BoldStyle.Render(welcome.RoomID))
		return runMeeting(ctx, conn, welcome, &joinFlags)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinFlags.register(joinCmd)
}
