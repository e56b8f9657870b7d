package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/server-doctor/internal/mcp"
	"github.com/nidhogg/server-doctor/internal/mcpclient"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Server Doctor gateway URL")
	flag.Parse()

	logger := zap.NewNop()
	client := mcpclient.New(strings.TrimRight(*server, "/")+"/mcp/sse", logger)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := client.Connect(ctx)
	cancel()
	if err != nil {
		printError("Failed to connect: %v", err)
		os.Exit(1)
	}

	fmt.Println("Server Doctor CLI")
	fmt.Printf("Gateway: %s | Tools: %d\n", *server, len(client.Tools()))
	fmt.Println("Commands: diagnose <name>, errors <name>, health <name>, guide <name>,")
	fmt.Println("          register <name> <url> [healthUrl], demos, /tools, exit")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == "/tools" {
			listTools(client)
			continue
		}
		runCommand(client, input)
	}
}

func listTools(client *mcpclient.Client) {
	fmt.Println("Available tools:")
	for _, tool := range client.Tools() {
		fmt.Printf("  %s — %s\n", tool.Name, tool.Description)
	}
}

func runCommand(client *mcpclient.Client, input string) {
	fields := strings.Fields(input)
	cmd := fields[0]

	var tool string
	args := map[string]any{}

	switch cmd {
	case "diagnose", "errors", "health", "guide":
		if len(fields) < 2 {
			printError("usage: %s <serverName>", cmd)
			return
		}
		args["serverName"] = fields[1]
		switch cmd {
		case "diagnose":
			tool = mcp.ToolDiagnoseServer
		case "errors":
			tool = mcp.ToolFetchErrorLogs
		case "health":
			tool = mcp.ToolGetHealthStatus
		case "guide":
			tool = mcp.ToolGetSetupGuide
		}
	case "register":
		if len(fields) < 3 {
			printError("usage: register <serverName> <serverUrl> [healthUrl]")
			return
		}
		tool = mcp.ToolRegisterServer
		args["serverName"] = fields[1]
		args["serverUrl"] = fields[2]
		if len(fields) > 3 {
			args["healthUrl"] = fields[3]
		}
	case "demos":
		tool = mcp.ToolListDemoServers
	default:
		printError("unknown command %q, try /tools", cmd)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	out, err := client.CallTool(ctx, tool, args)
	if err != nil {
		printError("%v", err)
		return
	}
	fmt.Println(out)
}

func printError(format string, args ...any) {
	fmt.Printf("\033[31m"+format+"\033[0m\n", args...)
}
