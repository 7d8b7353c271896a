/*
Meshchat is a decentralized peer-to-peer chat and file transfer overlay.
Every node is simultaneously a server accepting inbound peers and a client
dialing outbound ones; there is no coordinator. Nodes exchange chat
messages, nickname changes and file offers over length-prefixed TCP frames,
and gossip their peer rosters so that connecting to any single member pulls
a node into the full mesh.

The program runs an interactive terminal UI by default; -plain switches to
a line-oriented console for use under scripts and dumb terminals.
*/
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"meshchat/internal/config"
	"meshchat/internal/logging"
	"meshchat/internal/node"
	"meshchat/internal/tui"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Configuration error:", err)
		os.Exit(1)
	}

	if err := logging.SetupLogger(cfg.Plain); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to setup logging:", err)
		os.Exit(1)
	}
	logging.LogConfig(cfg)

	n, err := node.New(cfg)
	if err != nil {
		logging.LogError(err, "startup")
		os.Exit(1)
	}
	if err := n.Start(); err != nil {
		logging.LogError(err, "startup")
		fmt.Fprintln(os.Stderr, "Failed to start node:", err)
		os.Exit(1)
	}
	defer n.Stop()

	setupSignalHandling(n)

	for _, addr := range cfg.Peers {
		if err := n.ConnectToPeer(addr); err != nil {
			logging.LogError(err, "initial dial")
			fmt.Fprintf(os.Stderr, "Failed to connect to %s: %v\n", addr, err)
		}
	}

	if cfg.Plain {
		runConsole(n)
		return
	}

	if err := tui.Run(n); err != nil {
		logging.LogError(err, "tui")
		os.Exit(1)
	}
}

// setupSignalHandling stops the node cleanly on SIGINT/SIGTERM so peers
// observe an orderly disconnect instead of a read timeout.
func setupSignalHandling(n *node.Node) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		slog.Info("Received shutdown signal", "signal", sig)
		n.Stop()
		os.Exit(0)
	}()
}

// runConsole is the plain front-end: engine events print to stdout as
// they arrive, stdin lines are chat or slash commands. File offers are
// answered with /accept and /decline like in the TUI.
func runConsole(n *node.Node) {
	fmt.Printf("meshchat %s listening on %s\n", n.Nickname(), n.Addr())
	fmt.Println("Commands: /connect <host:port>, /nick <name>, /sendfile <path>, /accept, /decline, /peers, /clear, /quit")

	var pending []string // peer ids with unanswered file offers, oldest first

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-n.Done():
			return

		case ev := <-n.Events():
			switch ev := ev.(type) {
			case node.MessageEvent:
				fmt.Println(ev.Text)
			case node.FileRequestEvent:
				pending = append(pending, ev.PeerID)
				fmt.Printf("file offer: %s (%d bytes); /accept or /decline\n", ev.Name, ev.Size)
			case node.RosterEvent:
				// Printed on demand via /peers.
			case node.ClearHistoryEvent:
				fmt.Println("--- history cleared ---")
			case node.DebugEvent:
				slog.Debug(ev.Text)
			}

		case line, ok := <-lines:
			if !ok {
				n.Stop()
				return
			}
			if quit := handleConsoleInput(n, line, &pending); quit {
				n.Stop()
				return
			}
		}
	}
}

func handleConsoleInput(n *node.Node, line string, pending *[]string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		n.SendText(line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/connect":
		if len(fields) != 2 {
			fmt.Println("usage: /connect <host:port>")
			return false
		}
		if err := n.ConnectToPeer(fields[1]); err != nil {
			fmt.Println("connect failed:", err)
		}
	case "/nick":
		if len(fields) != 2 {
			fmt.Println("usage: /nick <name>")
			return false
		}
		if err := n.ChangeNickname(fields[1]); err != nil {
			fmt.Println("nick failed:", err)
		}
	case "/sendfile":
		if len(fields) != 2 {
			fmt.Println("usage: /sendfile <path>")
			return false
		}
		if err := n.SendFile(fields[1]); err != nil {
			fmt.Println("sendfile failed:", err)
		}
	case "/accept", "/decline":
		if len(*pending) == 0 {
			fmt.Println("no pending file offer")
			return false
		}
		peerID := (*pending)[0]
		*pending = (*pending)[1:]
		if err := n.RespondFile(peerID, fields[0] == "/accept"); err != nil {
			fmt.Println("respond failed:", err)
		}
	case "/peers":
		for _, line := range rosterLines(n) {
			fmt.Println(line)
		}
	case "/clear":
		n.ClearHistory()
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return false
}

func rosterLines(n *node.Node) []string {
	entries := n.Roster()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%s (%s)", e.Nick, e.Address))
	}
	return out
}
