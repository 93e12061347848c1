package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/internal/client"
	"github.com/bhandras/chatsync/internal/connection"
	"github.com/bhandras/chatsync/internal/messages"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/urfave/cli/v2"
)

// loadWait bounds how long list commands wait for the server's answer.
const loadWait = 5 * time.Second

var contactsCommand = &cli.Command{
	Name:   "contacts",
	Usage:  "List contacts",
	Before: requiresSession,
	Action: cmdContacts,
}

var conversationsCommand = &cli.Command{
	Name:    "conversations",
	Aliases: []string{"ls"},
	Usage:   "List conversations, most recent first",
	Before:  requiresSession,
	Action:  cmdConversations,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "type", Usage: "Only show direct or group conversations"},
	},
}

var createCommand = &cli.Command{
	Name:      "create",
	Usage:     "Start a direct or group conversation",
	ArgsUsage: "USER_ID...",
	Before:    requiresSession,
	Action:    cmdCreate,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "Group name; makes a group conversation"},
		&cli.StringFlag{Name: "avatar", Usage: "Group avatar path or URL"},
	},
}

var messagesCommand = &cli.Command{
	Name:      "messages",
	Usage:     "Show the messages of a conversation",
	ArgsUsage: "CONVERSATION_ID",
	Before:    requiresSession,
	Action:    cmdMessages,
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of messages to show"},
	},
}

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a message",
	ArgsUsage: "CONVERSATION_ID TEXT...",
	Before:    requiresSession,
	Action:    cmdSend,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "attach", Usage: "File path or URL to attach"},
	},
}

var watchCommand = &cli.Command{
	Name:      "watch",
	Usage:     "Follow conversations and, optionally, one conversation's messages",
	ArgsUsage: "[CONVERSATION_ID]",
	Before:    requiresSession,
	Action:    cmdWatch,
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "Refresh interval"},
	},
}

// waitFor polls cond until it holds or d elapses.
func waitFor(ctx context.Context, c *client.Client, d time.Duration, cond func() bool) bool {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := c.Flush(ctx); err == nil && cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func cmdContacts(ctx *cli.Context) error {
	c := getClient(ctx)
	c.RefreshContacts()
	if !waitFor(ctx.Context, c, loadWait, func() bool { return len(c.Contacts()) > 0 }) {
		fmt.Println("No contacts")
		return nil
	}
	for _, u := range c.Contacts() {
		fmt.Printf("%s\t%s\t%s\n", u.ID, u.Name, u.Email)
	}
	return nil
}

func cmdConversations(ctx *cli.Context) error {
	c := getClient(ctx)
	waitFor(ctx.Context, c, loadWait, func() bool { return len(c.Conversations()) > 0 })

	var list []wire.Conversation
	switch ctx.String("type") {
	case "":
		list = c.Conversations()
	case string(wire.ConversationDirect):
		list = c.DirectConversations()
	case string(wire.ConversationGroup):
		list = c.GroupConversations()
	default:
		return fmt.Errorf("invalid --type %q (expected direct or group)", ctx.String("type"))
	}
	if len(list) == 0 {
		fmt.Println("No conversations")
		return nil
	}
	for _, conv := range list {
		printConversation(c, conv)
	}
	return nil
}

func printConversation(c *client.Client, conv wire.Conversation) {
	id := c.DisplayIdentity(conv)
	last := ""
	if conv.LastMessage != nil {
		last = preview(conv.LastMessage.Content, conv.LastMessage.Attachment)
	}
	fmt.Printf("%s\t%-6s\t%s\t%s\n", conv.ID, conv.Type, id.Name, last)
}

func preview(content, attachment string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if len(content) > 60 {
		content = content[:57] + "..."
	}
	if attachment != "" {
		return strings.TrimSpace(content + " [attachment]")
	}
	return content
}

func cmdCreate(ctx *cli.Context) error {
	participants := ctx.Args().Slice()
	typ := wire.ConversationDirect
	if ctx.String("name") != "" || len(participants) > 1 {
		typ = wire.ConversationGroup
	}

	c := getClient(ctx)
	conv, err := c.CreateConversation(ctx.Context, typ, participants, ctx.String("name"), ctx.String("avatar"))
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	printConversation(c, conv)
	return nil
}

func openConversation(ctx *cli.Context, c *client.Client) (string, error) {
	id := ctx.Args().First()
	if id == "" {
		return "", fmt.Errorf("a conversation id is required")
	}
	c.OpenConversation(id)
	if err := c.Flush(ctx.Context); err != nil {
		return "", err
	}
	return id, nil
}

func cmdMessages(ctx *cli.Context) error {
	c := getClient(ctx)
	if _, err := openConversation(ctx, c); err != nil {
		return err
	}
	waitFor(ctx.Context, c, loadWait, func() bool { return len(c.Messages()) > 0 })

	msgs := c.Messages()
	if limit := ctx.Int("limit"); limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		printMessage(msgs[i])
	}
	return nil
}

func printMessage(m messages.Message) {
	who := m.Sender.Name
	if m.IsMine {
		who = "me"
	}
	ts := ""
	if !m.CreatedAt.IsZero() {
		ts = m.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	fmt.Printf("[%s] %s: %s\n", ts, who, preview(m.Content, m.Attachment))
}

func cmdSend(ctx *cli.Context) error {
	c := getClient(ctx)
	if _, err := openConversation(ctx, c); err != nil {
		return err
	}
	text := strings.Join(ctx.Args().Tail(), " ")
	c.SetDraft(text, ctx.String("attach"))

	if err := c.Send(ctx.Context); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	fmt.Println("Sent")
	return nil
}

func cmdWatch(ctx *cli.Context) error {
	c := getClient(ctx)
	if ctx.Args().Present() {
		if _, err := openConversation(ctx, c); err != nil {
			return err
		}
	}

	reconnect := make(chan struct{}, 1)
	stopWatch := c.OnConnectivityChange(func(s connection.State) {
		fmt.Printf("-- %s\n", s)
		if s == connection.Disconnected {
			select {
			case reconnect <- struct{}{}:
			default:
			}
		}
	})
	defer stopWatch()

	seenMsgs := make(map[string]bool)
	seenConvs := make(map[string]string)
	ticker := time.NewTicker(ctx.Duration("interval"))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Context.Done():
			return nil

		case <-reconnect:
			time.Sleep(2 * time.Second)
			if err := c.Connect(ctx.Context); err != nil {
				if errors.Is(err, apperr.ErrUnauthenticated) {
					return fmt.Errorf("session expired, run 'chatsync login': %w", err)
				}
				logger.Warnf("reconnect failed: %v", err)
				select {
				case reconnect <- struct{}{}:
				default:
				}
			}

		case <-ticker.C:
			if err := c.Flush(ctx.Context); err != nil {
				return nil
			}
			for _, conv := range c.Conversations() {
				key := ""
				if conv.LastMessage != nil {
					key = conv.LastMessage.ID
				}
				if prev, ok := seenConvs[conv.ID]; !ok || prev != key {
					seenConvs[conv.ID] = key
					printConversation(c, conv)
				}
			}
			msgs := c.Messages()
			for i := len(msgs) - 1; i >= 0; i-- {
				if seenMsgs[msgs[i].ID] {
					continue
				}
				seenMsgs[msgs[i].ID] = true
				printMessage(msgs[i])
			}
		}
	}
}
