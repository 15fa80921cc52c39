// Package main provides the admin CLI for a running radio server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/19radio/internal/api/connect"
)

var (
	app     = kingpin.New("radioctl", "19radio admin client")
	server  = app.Flag("server", "Server address").Default("http://localhost:9126").Envar("RADIO_SERVER").String()
	token   = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	timeout = app.Flag("timeout", "Request timeout").Default("10s").Duration()
	asJSON  = app.Flag("json", "Print raw JSON responses").Bool()

	statusCmd   = app.Command("status", "Show station status")
	skipCmd     = app.Command("skip", "Skip the current track")
	pauseCmd    = app.Command("pause", "Pause playback")
	resumeCmd   = app.Command("resume", "Resume playback")
	previousCmd = app.Command("previous", "Return to the previous track").Alias("prev")
	queueCmd    = app.Command("queue", "List queued tracks and pending requests").Alias("list")

	requestCmd      = app.Command("request", "Submit a track request")
	requestTitle    = requestCmd.Flag("title", "Track title").Required().String()
	requestURL      = requestCmd.Flag("url", "YouTube, Spotify, direct file or stream URL").Required().String()
	requestKind     = requestCmd.Flag("kind", "Request kind (guessed from the URL when empty)").Enum("", "youtube", "spotify", "direct", "stream")
	requestBy       = requestCmd.Flag("by", "Requester name").Default("").String()
	requestDuration = requestCmd.Flag("duration", "Display duration (mm:ss)").Default("").String()
)

func main() {
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewAdminClient(
		http.DefaultClient,
		*server,
		connect.WithInterceptors(apiconnect.NewTokenInterceptor(*token)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		resp map[string]any
		err  error
	)
	switch command {
	case statusCmd.FullCommand():
		resp, err = client.GetStatus(ctx)
	case skipCmd.FullCommand():
		resp, err = client.Skip(ctx)
	case pauseCmd.FullCommand():
		resp, err = client.Pause(ctx)
	case resumeCmd.FullCommand():
		resp, err = client.Resume(ctx)
	case previousCmd.FullCommand():
		resp, err = client.Previous(ctx)
	case queueCmd.FullCommand():
		resp, err = client.ListQueue(ctx)
	case requestCmd.FullCommand():
		resp, err = client.RequestTrack(ctx, map[string]any{
			"title":        *requestTitle,
			"url":          *requestURL,
			"kind":         *requestKind,
			"requested_by": *requestBy,
			"duration":     *requestDuration,
		})
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return
	}

	switch command {
	case statusCmd.FullCommand():
		printStatus(os.Stdout, resp)
	case queueCmd.FullCommand():
		printQueue(os.Stdout, resp)
	default:
		if !printResult(os.Stdout, resp) {
			os.Exit(1)
		}
	}
}

func printStatus(w io.Writer, s map[string]any) {
	fmt.Fprintln(w, "\n=== STATION STATUS ===")
	fmt.Fprintf(w, "Name: %v\n", s["name"])
	fmt.Fprintf(w, "State: %v\n", s["state"])
	fmt.Fprintf(w, "Queue Size: %v\n", number(s["queue_size"]))
	fmt.Fprintf(w, "Pending Requests: %v\n", number(s["request_count"]))
	fmt.Fprintf(w, "Listeners: %v\n", number(s["listeners"]))
	fmt.Fprintf(w, "Prefetching: %v\n", s["prefetching"])
	fmt.Fprintf(w, "Tracks Started: %v\n", number(s["tracks_started"]))
	fmt.Fprintf(w, "Uptime: %s\n", time.Duration(number(s["uptime_sec"]))*time.Second)

	if cur, ok := s["current"].(map[string]any); ok {
		fmt.Fprintln(w, "\nCurrently Playing:")
		printTrack(w, cur)
	} else {
		fmt.Fprintln(w, "\nNo track currently playing")
	}
	if prev, ok := s["previous"].(map[string]any); ok {
		fmt.Fprintln(w, "\nPrevious:")
		printTrack(w, prev)
	}
	fmt.Fprintln(w)
}

func printTrack(w io.Writer, t map[string]any) {
	fmt.Fprintf(w, "  Title: %v\n", t["title"])
	fmt.Fprintf(w, "  Duration: %v\n", t["duration"])
	fmt.Fprintf(w, "  Requested by: %v\n", t["requested_by"])
	fmt.Fprintf(w, "  Location: %v\n", t["location"])
}

func printQueue(w io.Writer, q map[string]any) {
	if cur, ok := q["current"].(map[string]any); ok {
		fmt.Fprintf(w, "Now: %v (%v) by %v\n", cur["title"], cur["duration"], cur["requested_by"])
	}

	pending, _ := q["pending"].([]any)
	fmt.Fprintf(w, "\n=== QUEUE (%d) ===\n", len(pending))
	for i, item := range pending {
		t, _ := item.(map[string]any)
		fmt.Fprintf(w, "%2d. %v (%v) by %v\n", i+1, t["title"], t["duration"], t["requested_by"])
	}

	reqs, _ := q["requests"].([]any)
	fmt.Fprintf(w, "\n=== REQUESTS (%d) ===\n", len(reqs))
	for i, item := range reqs {
		r, _ := item.(map[string]any)
		fmt.Fprintf(w, "%2d. [%v] %v by %v\n    %v\n", i+1, r["kind"], r["title"], r["requested_by"], r["url"])
	}
}

// printResult prints a control or request result and reports success.
func printResult(w io.Writer, r map[string]any) bool {
	ok, _ := r["success"].(bool)
	if !ok {
		if code, _ := r["code"].(string); code != "" {
			fmt.Fprintf(w, "Rejected (%s): %v\n", code, r["message"])
		} else {
			fmt.Fprintf(w, "Failed: %v\n", r["message"])
		}
		return false
	}
	if id, _ := r["id"].(string); id != "" {
		fmt.Fprintf(w, "%v: id=%s\n", r["message"], id)
		return true
	}
	fmt.Fprintln(w, r["message"])
	return true
}

// number converts a struct number (always float64) to an int64.
func number(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}
