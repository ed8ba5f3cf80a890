package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/jamsession/internal/room"
)

var (
	accent         = lipgloss.Color("#f59e0b")
	headerStyle    = lipgloss.NewStyle().Foreground(accent).Bold(true).Padding(0, 1)
	rowStyle       = lipgloss.NewStyle().Padding(0, 1)
	rowAltStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	roomsServerURL string
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Print the room directory of a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rooms, err := fetchRooms(roomsServerURL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderRooms(rooms))
		return nil
	},
}

func init() {
	roomsCmd.Flags().StringVar(&roomsServerURL, "url", "http://localhost:8080", "base URL of the jam server")
	rootCmd.AddCommand(roomsCmd)
}

func fetchRooms(baseURL string) ([]room.Summary, error) {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/rooms")
	if err != nil {
		return nil, fmt.Errorf("fetching rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching rooms: unexpected status %s", resp.Status)
	}

	var rooms []room.Summary
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decoding rooms: %w", err)
	}
	return rooms, nil
}

// renderRooms draws the directory as a table, one row per room in creation order.
func renderRooms(rooms []room.Summary) string {
	if len(rooms) == 0 {
		return mutedStyle.Render("No rooms")
	}

	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		instruments := strings.Join(r.Instruments, ", ")
		if instruments == "" {
			instruments = "-"
		}
		rows = append(rows, []string{r.RoomName, strconv.Itoa(r.NumPeople), instruments})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(accent)).
		Headers("Room", "People", "Instruments").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return rowStyle
			default:
				return rowAltStyle
			}
		})

	return tbl.Render()
}
