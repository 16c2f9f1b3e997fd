package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/RazmikUnanyan/razmik-chat/internal/relay"
)

// RoomsView renders a relay snapshot as a table.
func RoomsView(snap relay.Snapshot, now time.Time) string {
	if len(snap.Rooms) == 0 {
		return MutedStyle.Render("No open rooms")
	}

	claimed := make(map[string]bool, len(snap.Identities))
	for _, id := range snap.Identities {
		claimed[id] = true
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Room", "Members", "Host", "Age"})

	for i, room := range snap.Rooms {
		host := "-"
		if claimed[room.ID] {
			host = "yes"
		}
		t.AppendRow(table.Row{
			i + 1,
			room.ID,
			fmt.Sprintf("%d", len(room.Members)),
			host,
			formatAge(now.Sub(room.CreatedAt)),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d rooms", len(snap.Rooms)), "", ""})
	return t.Render()
}

func RenderRooms(snap relay.Snapshot) {
	fmt.Println(RoomsView(snap, time.Now()))
}

func formatAge(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = 0
	}
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	return s
}
