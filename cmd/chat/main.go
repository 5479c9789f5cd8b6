// Command chat is a terminal client for the chat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/RichardoC/padi-code/internal/chatclient"
	"github.com/RichardoC/padi-code/internal/models"
)

var (
	errorColor  = color.New(color.FgRed)
	infoColor   = color.New(color.FgHiBlack)
	titleColor  = color.New(color.FgCyan, color.Bold)
	promptColor = color.New(color.FgGreen)
)

const helpText = `Commands:
  /new             start a new conversation
  /list            list conversations
  /open <n|id>     open a conversation
  /delete <n|id>   delete a conversation
  /image <path>    attach an image to the next message
  /show            redraw the open conversation
  /quit            exit`

type session struct {
	client   *chatclient.Client
	chat     *chatclient.ChatState
	convs    *chatclient.ConversationsState
	renderer *glamour.TermRenderer
	pending  []models.ImageInput
	printed  int // bytes of the streaming reply already written
}

func main() {
	server := os.Getenv("PADI_SERVER")
	if server == "" {
		server = "http://localhost:8100/api"
	}
	flag.StringVar(&server, "server", server, "API base URL")
	flag.Parse()

	if err := run(server); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(server string) error {
	ctx := context.Background()
	s := &session{client: chatclient.New(server)}

	if err := s.client.Health(ctx); err != nil {
		return fmt.Errorf("server at %s is not available: %w", server, err)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err == nil {
		s.renderer = renderer
	}

	s.chat = chatclient.NewChatState(s.client,
		chatclient.OnChange(s.onChange),
		chatclient.OnConversationCreated(func(id string) {
			_ = s.convs.Fetch(ctx)
		}),
	)
	s.convs = chatclient.NewConversationsState(ctx, s.client)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(os.TempDir(), ".padi_chat_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	titleColor.Println("padi chat")
	infoColor.Println("Type a message, or /help for commands.")

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl+C or Ctrl+D
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" && len(s.pending) == 0 {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := s.command(ctx, input)
			if err != nil {
				errorColor.Printf("%v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		s.send(ctx, input)
	}
}

func (s *session) onChange(snap chatclient.ChatSnapshot) {
	if !snap.Loading || len(snap.Messages) == 0 {
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != models.RoleAssistant || last.Status != chatclient.StatusPending {
		return
	}
	if len(last.Content) > s.printed {
		fmt.Print(last.Content[s.printed:])
		s.printed = len(last.Content)
	}
}

func (s *session) send(ctx context.Context, content string) {
	images := s.pending
	s.pending = nil
	s.printed = 0

	// Ctrl+C while streaming abandons the reply; the server still saves it.
	sendCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := s.chat.SendMessage(sendCtx, content, images)
	fmt.Println()
	if err != nil {
		errorColor.Println(s.chat.Snapshot().Error)
		infoColor.Printf("(%v)\n", err)
	}
}

func (s *session) command(ctx context.Context, input string) (quit bool, err error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Println(helpText)
	case "/new":
		s.chat.ClearMessages()
		s.pending = nil
		infoColor.Println("Started a new conversation.")
	case "/list":
		if err := s.convs.Fetch(ctx); err != nil {
			return false, errors.New(s.convs.Snapshot().Error)
		}
		s.printList()
	case "/open":
		id, err := s.resolve(arg)
		if err != nil {
			return false, err
		}
		if err := s.chat.LoadConversation(ctx, id); err != nil {
			return false, errors.New(s.chat.Snapshot().Error)
		}
		s.show()
	case "/delete":
		id, err := s.resolve(arg)
		if err != nil {
			return false, err
		}
		if err := s.convs.Delete(ctx, id); err != nil {
			return false, errors.New(s.convs.Snapshot().Error)
		}
		if s.chat.Snapshot().ConversationID == id {
			s.chat.ClearMessages()
		}
		infoColor.Println("Deleted.")
	case "/image":
		if arg == "" {
			return false, errors.New("usage: /image <path>")
		}
		img, err := chatclient.LoadImage(arg)
		if err != nil {
			return false, err
		}
		s.pending = append(s.pending, img)
		infoColor.Printf("Attached %s (%s). It will be sent with your next message.\n", filepath.Base(arg), img.MimeType)
	case "/show":
		s.show()
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

// resolve accepts a 1-based index into the last listed conversations or an id.
func (s *session) resolve(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("missing conversation number or id")
	}
	list := s.convs.Snapshot().Conversations
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(list) {
			return "", fmt.Errorf("no conversation %d, see /list", n)
		}
		return list[n-1].ID, nil
	}
	return arg, nil
}

func (s *session) printList() {
	list := s.convs.Snapshot().Conversations
	if len(list) == 0 {
		infoColor.Println("No conversations yet.")
		return
	}
	for i, c := range list {
		fmt.Printf("%3d. %s ", i+1, c.Title)
		infoColor.Printf("(%d messages, %s)\n", c.MessageCount, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func (s *session) show() {
	for _, m := range s.chat.Snapshot().Messages {
		switch m.Role {
		case models.RoleUser:
			promptColor.Print("you: ")
			fmt.Println(m.Content)
			if n := len(m.Images); n > 0 {
				infoColor.Printf("     [%d image(s)]\n", n)
			}
		case models.RoleAssistant:
			fmt.Print(s.render(m.Content))
		}
	}
}

func (s *session) render(markdown string) string {
	if s.renderer == nil {
		return markdown + "\n"
	}
	out, err := s.renderer.Render(markdown)
	if err != nil {
		return markdown + "\n"
	}
	return out
}
