package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/omnitak/takcore/internal/daemon"
	"github.com/omnitak/takcore/internal/paths"
	"github.com/omnitak/takcore/internal/status"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (default \"default\")")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profile := paths.Resolve(*profileFlag)
	if err := paths.ValidateProfile(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := daemon.Dial(paths.SocketPath(profile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profile, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	switch args[0] {
	case "send":
		cmdSend(c, args[1:], *jsonFlag)
	case "position":
		run(c, daemon.Request{Op: daemon.OpPosition}, *jsonFlag)
	case "stats":
		cmdStats(c, *jsonFlag)
	case "messages":
		cmdMessages(c, args[1:], *jsonFlag)
	case "retry":
		cmdRetry(c, *jsonFlag)
	case "cleanup":
		cmdCleanup(c, *jsonFlag)
	case "flush":
		run(c, daemon.Request{Op: daemon.OpFlush}, *jsonFlag)
	case "export":
		cmdExportImport(c, daemon.OpExport, args[1:], *jsonFlag)
	case "import":
		cmdExportImport(c, daemon.OpImport, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: takcorectl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  send <text>                 Send to the group chat")
	fmt.Fprintln(os.Stderr, "  send --to <uid> <text>      Send a direct message")
	fmt.Fprintln(os.Stderr, "  position                    Emit a position self-report")
	fmt.Fprintln(os.Stderr, "  stats                       Show queue statistics")
	fmt.Fprintln(os.Stderr, "  messages [status]           List queued messages")
	fmt.Fprintln(os.Stderr, "  retry                       Resend failed messages")
	fmt.Fprintln(os.Stderr, "  cleanup                     Purge records past retention")
	fmt.Fprintln(os.Stderr, "  flush                       Force a durable flush")
	fmt.Fprintln(os.Stderr, "  export <path>               Write a queue snapshot")
	fmt.Fprintln(os.Stderr, "  import <path>               Merge a queue snapshot")
}

func run(c *daemon.Client, req daemon.Request, jsonOut bool) daemon.Response {
	resp, err := c.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
	}
	return resp
}

func cmdSend(c *daemon.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "recipient uid (omit for group chat)")
	callsign := fs.String("callsign", "", "recipient callsign")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: takcorectl send [--to <uid>] <text>")
		os.Exit(1)
	}

	resp := run(c, daemon.Request{
		Op:                daemon.OpSend,
		Text:              fs.Arg(0),
		RecipientUID:      *to,
		RecipientCallsign: *callsign,
	}, jsonOut)
	if !jsonOut {
		fmt.Printf("queued %s (%s)\n", resp.Message.ID, resp.Message.Status)
	}
}

func cmdStats(c *daemon.Client, jsonOut bool) {
	resp := run(c, daemon.Request{Op: daemon.OpStats}, jsonOut)
	if jsonOut {
		return
	}
	s := resp.Stats
	fmt.Printf("Working set:  %d\n", s.WorkingSet)
	fmt.Printf("Sent:         %d\n", s.TotalSent)
	fmt.Printf("Received:     %d\n", s.TotalReceived)
	fmt.Printf("Pending:      %d\n", s.PendingMessages)
	fmt.Printf("Failed:       %d\n", s.FailedMessages)
	fmt.Printf("Decode fails: %d\n", s.DecodeFailures)
	if s.LastSyncTime > 0 {
		fmt.Printf("Last sync:    %s\n", time.UnixMilli(s.LastSyncTime).Format(time.RFC3339))
	}
}

func cmdMessages(c *daemon.Client, args []string, jsonOut bool) {
	req := daemon.Request{Op: daemon.OpQuery}
	if len(args) > 0 {
		if !status.Valid(status.Status(args[0])) {
			fmt.Fprintf(os.Stderr, "error: unknown status %q\n", args[0])
			os.Exit(1)
		}
		req.Status = args[0]
	}
	resp := run(c, req, jsonOut)
	if jsonOut {
		return
	}
	for _, m := range resp.Messages {
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Printf("%s  %-9s %-8s %-12s %s\n", ts, m.Status, m.Direction, m.Callsign, m.UID)
	}
	fmt.Printf("%d message(s)\n", len(resp.Messages))
}

func cmdRetry(c *daemon.Client, jsonOut bool) {
	resp := run(c, daemon.Request{Op: daemon.OpRetry}, jsonOut)
	if !jsonOut {
		fmt.Printf("retried %d, delivered %d\n", resp.Attempted, resp.Succeeded)
	}
}

func cmdCleanup(c *daemon.Client, jsonOut bool) {
	resp := run(c, daemon.Request{Op: daemon.OpCleanup}, jsonOut)
	if !jsonOut {
		fmt.Printf("removed %s\n", plural(resp.Removed, "record"))
	}
}

func cmdExportImport(c *daemon.Client, op string, args []string, jsonOut bool) {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: takcorectl %s <path>\n", op)
		os.Exit(1)
	}
	resp := run(c, daemon.Request{Op: op, Path: args[0]}, jsonOut)
	if jsonOut {
		return
	}
	if op == daemon.OpImport {
		fmt.Printf("imported %s\n", plural(resp.Added, "message"))
	} else {
		fmt.Println("exported", args[0])
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
