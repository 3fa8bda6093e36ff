package app

import (
	"context"
	"fmt"
	"shieldchat/internal/model"
	"shieldchat/internal/service/reconciler"
	"shieldchat/internal/service/session"
	"shieldchat/internal/utils/log"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gdamore/tcell/v2"
	"github.com/mr-tron/base58"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const refreshInterval = 500 * time.Millisecond

type (
	// App renders the reconciled list of one channel. It only reads
	// snapshots and sends through the reconciler.
	App struct {
		app       *tview.Application
		chatbox   *tview.TextView
		statusBar *tview.TextView
		input     *tview.InputField

		session *session.Session
		rec     *reconciler.Reconciler

		channel solana.PublicKey
		sender  string

		// touched only on the UI goroutine
		notice      string
		noticeUntil time.Time
	}
)

func NewApp(sess *session.Session) *App {
	return &App{
		app:     tview.NewApplication(),
		session: sess,
		rec:     sess.Reconciler(),
	}
}

// Run blocks until the UI exits.
func (c *App) Run(ctx context.Context, channel solana.PublicKey, sender string) error {
	c.channel = channel
	c.sender = sender

	if err := c.session.Start(ctx, channel); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.refreshLoop(ctx)

	return c.renderUI()
}

func (c *App) Stop() {
	c.app.Stop()
}

// blocking function
func (c *App) renderUI() error {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Channel %s ", shortKey(c.channel.String())))

	c.statusBar = tview.NewTextView().SetDynamicColors(true)

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(msg string) {
			if err := c.SendMessage(context.Background(), msg); err != nil {
				c.app.QueueUpdateDraw(func() {
					c.setNotice(fmt.Sprintf("[red]send failed:[-] %s", tview.Escape(err.Error())))
				})
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.statusBar, 1, 0, false).
		AddItem(c.input, 3, 0, true)

	return c.app.SetRoot(layout, true).SetFocus(c.input).Run()
}

func (c *App) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		text := FormatMessages(c.rec.Messages(), c.sender)
		status := FormatStatus(c.rec.Status())
		changed := text != last
		last = text
		c.app.QueueUpdateDraw(func() {
			if changed {
				c.chatbox.SetText(text)
				c.chatbox.ScrollToEnd()
			}
			c.showStatus(status)
		})
	}
}

// SendMessage shows msg at once and reports the instruction data the
// caller's wallet must submit to confirm it.
func (c *App) SendMessage(ctx context.Context, msg string) error {
	res, err := c.rec.AddLocalMessage(ctx, c.channel, msg, c.sender, nil)
	if err != nil {
		log.Error("send message failed", zap.Error(err))
		return err
	}

	text := FormatMessages(c.rec.Messages(), c.sender)
	c.app.QueueUpdateDraw(func() {
		c.chatbox.SetText(text)
		c.chatbox.ScrollToEnd()
		c.setNotice(fmt.Sprintf("sent %s, submit log_message %s", shortKey(res.ContentRef), base58.Encode(res.InstructionData)))
	})
	return nil
}

func (c *App) setNotice(text string) {
	c.notice = text
	c.noticeUntil = time.Now().Add(10 * time.Second)
	c.statusBar.SetText(text)
}

func (c *App) showStatus(status string) {
	if c.notice != "" && time.Now().Before(c.noticeUntil) {
		return
	}
	c.notice = ""
	c.statusBar.SetText(status)
}

func FormatMessages(msgs []model.Message, self string) string {
	var b strings.Builder
	for _, m := range msgs {
		name := "[green]" + tview.Escape(shortKey(m.Sender)) + "[-]"
		if m.Sender == self {
			name = "[yellow]You[-]"
		}
		fmt.Fprintf(&b, "[gray]%s[-] %s: %s", m.Timestamp.Local().Format("15:04"), name, tview.Escape(m.Content))

		switch m.Kind {
		case model.KindAttachment:
			if m.Attachment != nil {
				fmt.Fprintf(&b, " [blue](attachment %s)[-]", tview.Escape(attachmentLabel(m.Attachment)))
			}
		case model.KindPoll:
			fmt.Fprintf(&b, " [blue](poll %s)[-]", tview.Escape(m.PollID))
		case model.KindGame:
			fmt.Fprintf(&b, " [blue](%s game %s)[-]", tview.Escape(m.GameType), tview.Escape(m.GameID))
		}
		if m.IsOptimistic() {
			b.WriteString(" [gray](pending)[-]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func FormatStatus(st reconciler.Status) string {
	parts := []string{st.Mode.String()}
	if st.Loading {
		parts = append(parts, "loading")
	}
	if st.LastKnownSequence > 0 {
		parts = append(parts, fmt.Sprintf("#%d", st.LastKnownSequence))
	}
	line := strings.Join(parts, " | ")
	if st.Err != nil {
		line += " | [red]" + tview.Escape(st.Err.Error()) + "[-] (retrying)"
	}
	return line
}

func attachmentLabel(a *model.Attachment) string {
	if a.Name != "" {
		return a.Name
	}
	return shortKey(a.Ref)
}

func shortKey(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
