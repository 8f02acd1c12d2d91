package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/auriance-health/auriance/internal/agent"
	"github.com/auriance-health/auriance/internal/models"
)

const chatBanner = "Auriance (%s). Commandes : /history, /clear, /quit\n"

// runChat runs a line-oriented conversation on in/out under userID.
func runChat(ctx context.Context, cfg Config, in io.Reader, out io.Writer, userID string) error {
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return chatLoop(ctx, rt.agent, in, out, models.UserID(userID))
}

// chatLoop reads one message per line until EOF, /quit or ctx ends.
func chatLoop(ctx context.Context, a *agent.Agent, in io.Reader, out io.Writer, userID models.UserID) error {
	fmt.Fprintf(out, chatBanner, a.ReplyType())
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			history, err := a.GetHistory(ctx, userID)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Fprintln(out, "(aucun message)")
			}
			for _, t := range history {
				fmt.Fprintf(out, "[%s] %s\n", t.Role, t.Content)
			}
			continue
		case "/clear":
			if err := a.ClearHistory(ctx, userID); err != nil {
				return err
			}
			fmt.Fprintln(out, "Historique effacé.")
			continue
		}

		reply, err := a.HandleMessage(ctx, userID, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply.Answer)
		if len(reply.Suggestions) > 0 {
			fmt.Fprintf(out, "  suggestions : %s\n", strings.Join(reply.Suggestions, " · "))
		}
	}
}
