package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"course-chat/internal/config"
	"course-chat/internal/session"
	"course-chat/pkg/logger"
)

func main() {
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: client -email you@example.com -password secret")
		os.Exit(1)
	}

	cfg := config.Load()
	ctx := context.Background()

	api := session.NewAPIClient(cfg.Client.APIBaseURL)
	login, err := api.Login(ctx, *email, *password)
	if err != nil {
		logger.Fatal("Login failed: %v", err)
	}
	fmt.Printf("Logged in as %s <%s>\n", login.User.Username, login.User.Email)

	transport, err := session.Dial(ctx, cfg.Client.WSURL, login.Token)
	if err != nil {
		logger.Fatal("Connection failed: %v", err)
	}

	coord := session.NewCoordinator(transport, api, session.Options{
		Identity:    login.User.Email,
		DisplayName: login.User.Username,
		Notify: func(from, senderName, preview string) {
			fmt.Printf("\n[notification] %s: %s\n> ", senderName, preview)
		},
		OnError: func(err error) {
			fmt.Printf("\n[error] %v\n> ", err)
		},
	})
	if err := coord.Start(); err != nil {
		logger.Fatal("Session start failed: %v", err)
	}
	defer coord.Close()

	printHelp()
	repl(ctx, api, coord)
}

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  /communities        list your communities")
	fmt.Println("  /join <id>          switch to a community room")
	fmt.Println("  /dm <email>         open a direct thread")
	fmt.Println("  /inbox              show direct conversations")
	fmt.Println("  /who                show who is in the room")
	fmt.Println("  /log                reprint the visible message log")
	fmt.Println("  /quit               exit")
	fmt.Println("anything else is sent to the active conversation")
}

func repl(ctx context.Context, api *session.APIClient, coord *session.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":

		case line == "/quit":
			return

		case line == "/communities":
			communities, err := api.ListCommunities(ctx)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			for _, c := range communities {
				fmt.Printf("  [%d] %s\n", c.ID, c.Name)
			}

		case strings.HasPrefix(line, "/join "):
			id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))
			if err != nil {
				fmt.Println("usage: /join <id>")
				break
			}
			if err := coord.SetActiveRoom(ctx, id); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case strings.HasPrefix(line, "/dm "):
			coord.OpenDirect(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/dm ")))

		case line == "/inbox":
			for i, conv := range coord.Conversations() {
				marker := ""
				if conv.Unread > 0 {
					marker = fmt.Sprintf(" (%d unread)", conv.Unread)
				}
				fmt.Printf("  %d. %s: %s%s\n", i+1, conv.Counterpart, conv.LastPreview, marker)
			}

		case line == "/who":
			for _, name := range coord.Presence() {
				fmt.Printf("  %s\n", name)
			}

		case line == "/log":
			for _, msg := range coord.Messages() {
				tag := ""
				if msg.State != session.StateConfirmed {
					tag = fmt.Sprintf(" [%s]", msg.State)
				}
				fmt.Printf("  %s %s: %s%s\n", msg.SentAt.Format("15:04"), msg.SenderName, msg.Body, tag)
			}

		default:
			kind, _, _ := coord.ActiveContext()
			var err error
			switch kind {
			case session.ContextCommunity:
				err = coord.SendCommunity(line)
			case session.ContextDirect:
				err = coord.SendDirect(line)
			default:
				fmt.Println("no active conversation; /join a room or /dm someone")
			}
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}
