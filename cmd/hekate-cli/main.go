package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/chzyer/readline"

	"github.com/hekate-project/hekate/internal/admin"

	_ "embed"
)

var addr = flag.String("addr", "localhost:7100", "admin service address")

//go:embed help
var helpString string

func main() {
	flag.Parse()

	client, err := admin.Dial(*addr)
	if err != nil {
		log.Fatalf("failed to connect to admin service: %v", err)
	}
	defer client.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt: ">> ",
	})
	if err != nil {
		log.Fatalf("failed to initialize readline: %v", err)
	}
	defer rl.Close()

	fmt.Println("hekate-cli (type '.exit' to quit, '.help' for commands)")
	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}

		line = strings.TrimSpace(line)
		switch {
		case line == ".help":
			printHelp()
		case line == ".exit":
			return
		case line == "":
			continue
		default:
			handleCommand(client, line)
		}
	}
}

func printHelp() {
	fmt.Println(helpString)
}

func handleCommand(client *admin.Client, command string) {
	switch command {
	case "topology":
		snapshot, err := client.Topology()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("version=%d\n", snapshot.Version)
		for _, n := range snapshot.Nodes {
			fmt.Printf("  %-36s %-22s %-10v roles=%v\n", n.ID, n.Address, n.Status, n.Roles)
		}

	case "locks":
		resp, err := client.Locks()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		for _, region := range resp.Regions {
			fmt.Printf("region=%s migrating=%v\n", region.Name, region.Migrating)
			for _, l := range region.Locks {
				fmt.Printf("  %s owner=%s lockID=%d threadID=%d\n", l.Name, l.Owner, l.LockID, l.ThreadID)
			}
		}

	case "coordination":
		resp, err := client.Coordination()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		for _, p := range resp.Processes {
			fmt.Printf("process=%s coordinator=%s round=%d done=%v cancelled=%v\n",
				p.Name, p.Coordinator, p.RoundID, p.Done, p.Cancelled)
		}

	case "leave":
		if err := client.Leave(); err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Println("leave requested")

	default:
		fmt.Printf("unknown command: %s (try .help)\n", command)
	}
}
