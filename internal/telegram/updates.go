package telegram

import (
	"fmt"
	"strings"

	"github.com/gotd/td/tg"
	"github.com/lk2023060901/vidgrab-bot/internal/bot"
)

// toInbound accepts text messages from users in private chats only
func toInbound(msg *tg.Message, e tg.Entities) (bot.Inbound, tg.InputPeerClass, bool) {
	peer, ok := msg.PeerID.(*tg.PeerUser)
	if !ok || strings.TrimSpace(msg.Message) == "" {
		return bot.Inbound{}, nil, false
	}
	user, ok := e.Users[peer.UserID]
	if !ok || user.Bot {
		return bot.Inbound{}, nil, false
	}

	return bot.Inbound{
		MessageID: msg.ID,
		ChatID:    peer.UserID,
		Text:      msg.Message,
		From: bot.Sender{
			UserID:    user.ID,
			Username:  user.Username,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			IsPremium: user.Premium,
		},
	}, user.AsInputPeer(), true
}

// messageID finds the id of the message a send call created
func messageID(upd tg.UpdatesClass) (int, error) {
	switch u := upd.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID, nil
	case *tg.Updates:
		if id, ok := findMessageID(u.Updates); ok {
			return id, nil
		}
	case *tg.UpdatesCombined:
		if id, ok := findMessageID(u.Updates); ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no message id in %T", upd)
}

func findMessageID(updates []tg.UpdateClass) (int, bool) {
	for _, update := range updates {
		switch v := update.(type) {
		case *tg.UpdateMessageID:
			return v.ID, true
		case *tg.UpdateNewMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				return m.ID, true
			}
		}
	}
	return 0, false
}
