package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceMesh/internal/app/mesh"
	"github.com/dkeye/VoiceMesh/internal/config"
	"github.com/dkeye/VoiceMesh/internal/core"
)

// renderPeers prints one row per remote participant.
func renderPeers(w io.Writer, sess *mesh.Session) {
	self := sess.Self()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("room %s | %s | camera %s | mic %s",
		sess.Room(), self.ID, onOff(sess.IsCameraOn()), onOff(sess.IsMicrophoneOn())))
	t.AppendHeader(table.Row{"#", "Participant", "Name", "State", "Tracks"})
	for i, p := range sess.Peers() {
		t.AppendRow(table.Row{i + 1, p.RemoteID, p.DisplayName, p.State.String(), p.Tracks})
	}
	if err := sess.LastError(); err != nil {
		t.AppendFooter(table.Row{"", "last error", err.Error()})
	}
	t.Render()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func newRoomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List rooms known to the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(v)
			if err != nil {
				return err
			}
			endpoint, err := roomsURL(cfg.Signaling.URL)
			if err != nil {
				return err
			}
			rooms, err := fetchRooms(cmd, endpoint)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Room", "Members"})
			for _, r := range rooms {
				t.AppendRow(table.Row{r.ID, r.MemberCount})
			}
			t.Render()
			return nil
		},
	}
	return cmd
}

// roomsURL derives the HTTP rooms endpoint from the relay websocket url.
func roomsURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws/signal") + "/rooms"
	u.RawQuery = ""
	return u.String(), nil
}

func fetchRooms(cmd *cobra.Command, endpoint string) ([]core.RoomInfo, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned %s", resp.Status)
	}
	var body struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Rooms, nil
}
