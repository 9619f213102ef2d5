package telegram

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"sync"
	"time"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/lk2023060901/vidgrab-bot/internal/downloader"
)

// conversation answers in one private chat, replying to the user's message
type conversation struct {
	sender   *message.Sender
	uploader *uploader.Uploader
	peer     tg.InputPeerClass
	replyTo  int

	mu       sync.Mutex
	uploaded map[string]tg.InputFileClass
}

func newConversation(sender *message.Sender, up *uploader.Uploader, peer tg.InputPeerClass, replyTo int) *conversation {
	return &conversation{
		sender:   sender,
		uploader: up,
		peer:     peer,
		replyTo:  replyTo,
		uploaded: make(map[string]tg.InputFileClass),
	}
}

func (c *conversation) Reply(ctx context.Context, text string) (int, error) {
	upd, err := c.sender.To(c.peer).Reply(c.replyTo).Text(ctx, text)
	if err != nil {
		return 0, err
	}
	return messageID(upd)
}

func (c *conversation) ReplyHTML(ctx context.Context, text string) (int, error) {
	upd, err := c.sender.To(c.peer).Reply(c.replyTo).StyledText(ctx, html.String(nil, text))
	if err != nil {
		return 0, err
	}
	return messageID(upd)
}

func (c *conversation) Edit(ctx context.Context, messageID int, text string) error {
	_, err := c.sender.To(c.peer).Edit(messageID).Text(ctx, text)
	return err
}

func (c *conversation) UploadAction(ctx context.Context) error {
	return c.sender.To(c.peer).TypingAction().UploadVideo(ctx, 0)
}

func (c *conversation) SendVideo(ctx context.Context, path, caption string, meta downloader.Metadata) error {
	file, err := c.upload(ctx, path)
	if err != nil {
		return err
	}

	video := message.UploadedDocument(file, styling.Plain(caption)).
		MIME(mimeType(path)).
		Filename(filepath.Base(path)).
		Video().
		SupportsStreaming()
	if meta.Duration > 0 {
		video = video.Duration(time.Duration(meta.Duration * float64(time.Second)))
	}
	if meta.Width > 0 && meta.Height > 0 {
		video = video.Resolution(meta.Width, meta.Height)
	}

	_, err = c.sender.To(c.peer).Reply(c.replyTo).Media(ctx, video)
	return err
}

func (c *conversation) SendDocument(ctx context.Context, path, caption string) error {
	file, err := c.upload(ctx, path)
	if err != nil {
		return err
	}

	doc := message.UploadedDocument(file, styling.Plain(caption)).
		MIME(mimeType(path)).
		Filename(filepath.Base(path)).
		ForceFile(true)

	_, err = c.sender.To(c.peer).Reply(c.replyTo).Media(ctx, doc)
	return err
}

// upload sends path to Telegram once; the document fallback reuses it
func (c *conversation) upload(ctx context.Context, path string) (tg.InputFileClass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.uploaded[path]; ok {
		return f, nil
	}
	f, err := c.uploader.FromPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	c.uploaded[path] = f
	return f, nil
}

func mimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "video/mp4"
}
