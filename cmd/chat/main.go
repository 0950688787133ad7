// Package main is a terminal demo client for the conversation engine. It
// speaks to the simulator (or any compatible deployment) over the REST
// transport.
package main

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/chatkit-io/chatkit-go/internal/config"
	"github.com/chatkit-io/chatkit-go/internal/conversation"
	"github.com/chatkit-io/chatkit-go/internal/middleware"
	"github.com/chatkit-io/chatkit-go/internal/model"
	"github.com/chatkit-io/chatkit-go/internal/transport"
	"github.com/chatkit-io/chatkit-go/internal/transport/natsjs"
	"github.com/chatkit-io/chatkit-go/internal/transport/rest"
	"github.com/chatkit-io/chatkit-go/pkg/logger"
)

// chatTransport is the engine transport plus the push channel both backends
// provide.
type chatTransport interface {
	transport.Transport
	transport.Pusher
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	var client chatTransport
	switch cfg.Transport {
	case "nats":
		nc, err := natsjs.Connect(context.Background(), natsjs.Config{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		client = nc
	default:
		token, err := middleware.SignToken(cfg.JWTSecret, cfg.AppUserID, cfg.JWTExpiration)
		if err != nil {
			log.Fatal("failed to sign dev token", zap.Error(err))
		}
		client = rest.New(rest.Config{
			BaseURL: cfg.BaseURL,
			WSURL:   cfg.WSURL,
			Token:   token,
			Logger:  log,
		})
	}

	conv := conversation.New(client, conversation.Options{
		ConversationID:    cfg.ConversationID,
		TypingIdleTimeout: cfg.TypingIdleTimeout,
		Logger:            log,
	})
	defer conv.Close()

	conv.Subscribe(printEvent)

	// Server pushes flow into the engine until the process exits.
	pushCtx, cancelPush := context.WithCancel(context.Background())
	defer cancelPush()
	go func() {
		if err := client.Listen(pushCtx, cfg.ConversationID, conv); err != nil && pushCtx.Err() == nil {
			log.Warn("push channel ended", zap.Error(err))
		}
	}()

	fmt.Println("connected; type a message, or /prev /read /retry <id> /attach <path> /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/prev":
			if err := conv.LoadPreviousMessages(); err != nil {
				fmt.Println("!", err)
			}
		case line == "/read":
			conv.MarkAllAsRead()
		case strings.HasPrefix(line, "/retry "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
			if err := conv.RetryMessage(id); err != nil {
				fmt.Println("!", err)
			}
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			sendAttachment(conv, path)
		default:
			conv.StartTyping()
			msg := model.NewTextMessage(line)
			if err := conv.Send(msg); err != nil {
				fmt.Println("!", err)
			}
			conv.StopTyping()
		}
	}
}

func sendAttachment(conv *conversation.Conversation, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("!", err)
		return
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	err = conv.SendAttachment(data, mimeType,
		func(fraction float64) {
			fmt.Printf("  uploading %.0f%%\n", fraction*100)
		},
		func(msg *model.Message, err error) {
			if err != nil {
				fmt.Println("! upload failed:", err)
				return
			}
			fmt.Println("  uploaded", msg.MediaURL)
		})
	if err != nil {
		fmt.Println("!", err)
	}
}

func printEvent(ev model.Event) {
	switch ev.Type {
	case model.EventMessagesReceived:
		for _, msg := range ev.Messages {
			fmt.Printf("<%s> %s\n", msg.Role, msg.Text)
		}
	case model.EventPreviousMessagesReceived:
		fmt.Printf("  loaded %d older messages\n", len(ev.Messages))
	case model.EventPreviousMessagesFailed:
		fmt.Println("! history load failed:", ev.Err)
	case model.EventMessageSendCompleted:
		fmt.Printf("  sent (%s)\n", ev.Message.ID)
	case model.EventMessageSendFailed:
		fmt.Printf("! send failed, /retry %s\n", ev.Message.CorrelationID)
	case model.EventUnreadCountChanged:
		fmt.Printf("  unread: %d\n", ev.UnreadCount)
	case model.EventActivityReceived:
		switch ev.Activity.Type {
		case model.ActivityTypingStart:
			fmt.Printf("  %s is typing...\n", ev.Activity.Name)
		case model.ActivityConversationRead:
			fmt.Println("  read by", ev.Activity.Name)
		}
	}
}
