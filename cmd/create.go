package cmd

import (
	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/BioHazard786/warpmeet/internal/ui"
	"github.com/spf13/cobra"
)

var createFlags meetingFlags

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Start a new meeting and wait for others to join",
	Long: `Create a meeting room on the relay and join it as host.

Examples:
  warpmeet create
  warpmeet create --name alice --codec msgpack
  warpmeet create --domain localhost:8080 --ws-url ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(createFlags.options())
		if err != nil {
			return err
		}
		// The relay makes the creator host unless asked otherwise.
		if !cmd.Flags().Changed("role") && cfg.Role == "participant" {
			cfg.Role = string(roster.RoleHost)
		}

		ctx := cmd.Context()
		conn, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := conn.Client.CreateRoom(cfg.Name, roster.Role(cfg.Role), createFlags.initialState()); err != nil {
			return signaling.NewError("create room", err)
		}
		welcome, err := conn.await(conn.Handler.RoomCreated, "create room")
		if err != nil {
			return err
		}

		ui.RenderRoomInfo(welcome.RoomID, cfg.GetRoomLink(welcome.RoomID))
		return runMeeting(ctx, conn, welcome, &createFlags)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createFlags.register(createCmd)
}
