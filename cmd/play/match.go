package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"game-session-hub/internal/model"
	"game-session-hub/internal/peer"
	"game-session-hub/internal/room"
)

// match is one online game between the two session peers.
type match struct {
	rooms *room.Manager
	room  *model.Room
	host  bool
	name  string
}

// gameOver counts the finished game. Only the host writes the room so the
// counter moves once per game.
func (m *match) gameOver(ctx context.Context) {
	if !m.host {
		return
	}
	if !m.rooms.IncrementGamesPlayed(ctx, m.room.ID) {
		fmt.Println("(could not record the game)")
	}
}

// play relays stdin lines as chat until either side leaves.
//
//	/surrender  concede the current game
//	/restart    ask for a rematch
//	/quit       leave the room
func play(ctx context.Context, s *peer.Session, m *match) error {
	left := make(chan struct{})
	var leftOnce sync.Once

	s.OnConnected(func() {
		fmt.Println("Opponent connected. Type to chat, /surrender, /restart or /quit.")
		s.SendMessage(model.MsgReady, map[string]string{"name": m.name})
	})
	s.OnDisconnected(func() {
		fmt.Println("Opponent disconnected.")
		leftOnce.Do(func() { close(left) })
	})
	s.OnMessage(func(msg model.PeerMessage) {
		switch msg.Type {
		case model.MsgChat:
			var chat model.ChatPayload
			if err := msg.DecodePayload(&chat); err == nil {
				fmt.Printf("%s: %s\n", chat.From, chat.Text)
			}
		case model.MsgReady:
			fmt.Println("Opponent is ready.")
		case model.MsgSurrender:
			fmt.Println("Opponent surrendered, you win!")
			m.gameOver(ctx)
		case model.MsgRestart:
			fmt.Println("Opponent wants a rematch.")
		case model.MsgLeave:
			fmt.Println("Opponent left the room.")
		default:
			fmt.Printf("[%s] %s\n", msg.Type, msg.Payload)
		}
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.SendMessage(model.MsgLeave, nil)
			return nil
		case <-left:
			return nil
		case line, ok := <-lines:
			if !ok {
				s.SendMessage(model.MsgLeave, nil)
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/quit":
				s.SendMessage(model.MsgLeave, nil)
				return nil
			case "/surrender":
				if s.SendMessage(model.MsgSurrender, nil) {
					fmt.Println("You surrendered.")
					m.gameOver(ctx)
				}
			case "/restart":
				s.SendMessage(model.MsgRestart, nil)
			default:
				if !s.SendMessage(model.MsgChat, model.ChatPayload{From: m.name, Text: line}) {
					fmt.Println("(not connected)")
				}
			}
		}
	}
}
