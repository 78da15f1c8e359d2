package ui

import (
	"fmt"

	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// PeerTableView renders the remote participants of a session snapshot.
func PeerTableView(peers []session.PeerSnapshot) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No participants yet")
	}

	headers := []string{"Name", "Role", "Connection", "Media", "Camera", "Screen"}

	var rows [][]string
	for _, p := range peers {
		name := p.Participant.Name
		if name == "" {
			name = p.Participant.PeerID
		}
		name = truncate(name, 24)
		if p.Participant.Role.Elevated() {
			name = IconHost + " " + name
		}

		state := "no connection"
		if p.Connected {
			state = p.Connection.ConnectionState.String()
		}

		rows = append(rows, []string{
			name,
			string(p.Participant.Role),
			state,
			mediaState(p.Participant),
			orDash(truncate(p.Camera, 12)),
			orDash(truncate(p.Screen, 12)),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// mediaState renders the microphone and camera flags a participant
// announced.
func mediaState(p roster.Participant) string {
	mic, cam := "mic on", "cam on"
	if p.IsAudioMuted {
		mic = "muted"
	}
	if p.IsVideoOff {
		cam = "cam off"
	}
	return mic + " " + cam
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Meeting Created!\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)

	return boxStyle.Render(content)
}

func RenderRoomInfo(roomID, roomLink string) {
	fmt.Println(NewRoomInfo(roomID, roomLink).View())
}
