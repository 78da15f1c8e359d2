package ui

import (
	"fmt"
	"time"

	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionSummary is printed when the user leaves a meeting.
type SessionSummary struct {
	RoomID   string
	Duration time.Duration
	Snapshot session.Snapshot
}

func SessionSummaryView(s SessionSummary) string {
	t := table.NewWriter()
	t.SetTitle(IconStats + " Session Summary")
	t.AppendHeader(table.Row{"Participant", "Role", "State", "Offers", "Answers", "Failures", "Tracks", "Packets"})

	for _, p := range s.Snapshot.Peers {
		name := p.Participant.Name
		if name == "" {
			name = p.Participant.PeerID
		}
		state := "-"
		if p.Connected {
			state = p.Connection.ConnectionState.String()
		}
		t.AppendRow(table.Row{
			truncate(name, 24),
			string(p.Participant.Role),
			state,
			p.Connection.OffersSent,
			p.Connection.AnswersSent,
			p.Connection.Failures,
			p.Tracks,
			p.Packets,
		})
	}

	t.AppendFooter(table.Row{"Room", s.RoomID, "Duration", s.Duration.Round(time.Second).String()})
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	return t.Render()
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println()
	fmt.Println(SessionSummaryView(s))
}
