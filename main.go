package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"chatvault/internal/utils"
)

func main() {
	if err := utils.LoadEnv(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}

	app := NewApp()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.startup(ctx); err != nil {
		fmt.Println("Error starting chatvault:", err)
		return
	}
	defer app.shutdown()

	repl(ctx, app)
}

// repl is a minimal interactive loop for exercising the session from a
// terminal. The real UI binds to the same service surface.
func repl(ctx context.Context, app *App) {
	fmt.Println("chatvault — commands: new, list, say <text>, stop, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")

		switch cmd {
		case "quit", "exit":
			return
		case "new":
			chat, err := app.Session.CreateChat(app.Catalog.DefaultModelKey())
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("created chat", chat.ID)
		case "list":
			for _, chat := range app.Session.Chats() {
				marker := " "
				if chat.ID == app.Session.CurrentChatID() {
					marker = "*"
				}
				fmt.Printf("%s %s  %s (%s)\n", marker, chat.ID[:8], chat.Title, chat.Model)
			}
		case "say":
			if rest == "" {
				fmt.Println("usage: say <text>")
				continue
			}
			chatID := app.Session.CurrentChatID()
			if err := app.Session.Send(ctx, chatID, rest); err != nil {
				fmt.Println("error:", err)
				continue
			}
			msgs, err := app.Session.Messages(chatID)
			if err == nil && len(msgs) > 0 {
				fmt.Println(msgs[len(msgs)-1].Content)
			}
		case "stop":
			app.Session.StopGeneration(app.Session.CurrentChatID())
		case "":
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}
