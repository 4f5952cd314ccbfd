package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"chatsession/internal/config"
	"chatsession/internal/connection"
	"chatsession/internal/history"
	"chatsession/internal/roomapi"
	"chatsession/internal/session"
	"chatsession/pkg/auth"
	"chatsession/pkg/interfaces"
	"chatsession/pkg/types"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "room directory API address")
	wsAddr := flag.String("ws", "ws://localhost:8080", "chat websocket address")
	token := flag.String("token", "", "bearer token")
	userID := flag.String("user", "", "user id (default: user_id claim from token)")
	roomID := flag.String("room", "", "room to join on startup")
	configPath := flag.String("config", "", "optional JSON config file")
	cachePath := flag.String("cache", "", "optional local message cache path")
	flag.Parse()

	if *token == "" {
		log.Fatal("a bearer token is required (-token)")
	}

	cfg := config.LoadConfigWithPrecedence(*configPath)

	tokens, err := auth.NewStaticTokenSource(*token, *userID)
	if err != nil {
		// Opaque tokens carry no user_id claim; fall back to a random
		// identity so local testing works without a real auth service.
		fallback := "user-" + uuid.New().String()[:8]
		tokens, err = auth.NewStaticTokenSource(*token, fallback)
		if err != nil {
			log.Fatal("invalid credentials: ", err)
		}
		log.Printf("No user identity available, using %s", fallback)
	}

	var recorder interfaces.MessageRecorder
	var cache *history.Cache
	if *cachePath != "" {
		cache, err = history.Open(*cachePath)
		if err != nil {
			log.Fatal("failed to open message cache: ", err)
		}
		defer cache.Close()
		recorder = cache
	}

	directory := roomapi.NewClient(*apiAddr, tokens)
	dialer := connection.NewWebsocketDialer(*wsAddr, cfg.Connection.WriteTimeout)

	orch, err := session.New(cfg, directory, tokens, dialer, recorder)
	if err != nil {
		log.Fatal("failed to assemble session: ", err)
	}
	defer orch.Close()

	printer := newPrinter(tokens.UserID())
	unsubscribe := orch.State().Subscribe(printer)
	defer unsubscribe()

	ctx := context.Background()

	if err := orch.RefreshRooms(ctx); err != nil {
		log.Printf("Room list load failed: %v", err)
	}
	if *roomID != "" {
		if err := orch.SelectRoom(ctx, *roomID); err != nil {
			log.Printf("Failed to join %s: %v", *roomID, err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		select {
		case <-interrupt:
			fmt.Println()
			return

		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, orch, cache, line) {
				return
			}
			fmt.Print("> ")
		}
	}
}

// handleLine runs one command; returns false to quit.
func handleLine(ctx context.Context, orch *session.Orchestrator, cache *history.Cache, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	switch {
	case line == "/quit":
		return false

	case line == "/rooms":
		if err := orch.RefreshRooms(ctx); err != nil {
			log.Printf("Room list load failed: %v", err)
			return true
		}
		for _, room := range orch.State().Snapshot().Rooms {
			fmt.Printf("  %s  %s (%s, %d members)\n", room.ID, room.Name, room.Type, room.ParticipantCount)
		}

	case strings.HasPrefix(line, "/join "):
		roomID := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
		if cache != nil {
			// Show whatever is cached while the live history loads.
			if cached, err := cache.RoomHistory(ctx, roomID, 20); err == nil {
				for _, msg := range cached {
					fmt.Printf("  (cached) %s: %s\n", msg.SenderID, msg.Content)
				}
			}
		}
		if err := orch.SelectRoom(ctx, roomID); err != nil {
			log.Printf("Failed to join %s: %v", roomID, err)
		}

	case line == "/leave":
		if err := orch.LeaveRoom(ctx); err != nil {
			log.Printf("Failed to leave: %v", err)
		}

	case line == "/retry":
		if err := orch.Reconnect(ctx); err != nil {
			log.Printf("Reconnect failed: %v", err)
		}

	case line == "/typing":
		if err := orch.SendTyping(true); err != nil {
			log.Printf("Typing signal rejected: %v", err)
		}

	case strings.HasPrefix(line, "/read "):
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/read ")), 10, 64)
		if err != nil {
			log.Printf("Usage: /read <message-id>")
			return true
		}
		if err := orch.SendReadReceipt(id); err != nil {
			log.Printf("Read receipt rejected: %v", err)
		}

	default:
		if !orch.SendMessage(line, types.MessageKindText) {
			log.Printf("Send rejected: %v", orch.State().LastError())
		}
	}
	return true
}

// printer renders session snapshots as terminal output, printing only
// what changed since the previous snapshot.
type printer struct {
	selfID string

	mu         sync.Mutex
	lastStatus types.ConnectionStatus
	lastErr    error
	printed    map[string]bool
	typing     map[string]bool
}

func newPrinter(selfID string) *printer {
	return &printer{
		selfID:  selfID,
		printed: make(map[string]bool),
		typing:  make(map[string]bool),
	}
}

// SessionUpdated implements interfaces.SessionListener.
func (p *printer) SessionUpdated(snapshot types.SessionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snapshot.Status != p.lastStatus {
		p.lastStatus = snapshot.Status
		fmt.Printf("\r[%s]\n> ", snapshot.Status)
	}

	if snapshot.LastError != nil && snapshot.LastError != p.lastErr {
		fmt.Printf("\r[error] %v\n> ", snapshot.LastError)
	}
	p.lastErr = snapshot.LastError

	for _, msg := range snapshot.Messages {
		key := messageKey(msg)
		if p.printed[key] || msg.SenderID == p.selfID && msg.ID.IsPending() {
			continue
		}
		p.printed[key] = true
		if msg.Deleted {
			continue
		}
		fmt.Printf("\r%s: %s\n> ", msg.SenderID, msg.Content)
	}

	for sender := range snapshot.Typing {
		if sender == p.selfID || p.typing[sender] {
			continue
		}
		fmt.Printf("\r%s is typing...\n> ", sender)
	}
	for sender := range p.typing {
		delete(p.typing, sender)
	}
	for sender := range snapshot.Typing {
		p.typing[sender] = true
	}
}

func messageKey(msg types.Message) string {
	if id, ok := msg.ID.Confirmed(); ok {
		return "c:" + strconv.FormatInt(id, 10)
	}
	token, _ := msg.ID.LocalToken()
	return "p:" + strconv.FormatUint(token, 10)
}
