package mailbox

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"mailtrader/signal"
)

// ParseMessage 解码一封 RFC 5322 邮件，提取发件人、Message-ID、纯文本和HTML正文。
// receivedAt 为服务器收件时间，为空时退回到 Date 头。
func ParseMessage(r io.Reader, receivedAt time.Time) (*signal.Mail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("解析邮件结构失败: %w", err)
	}
	defer mr.Close()

	m := &signal.Mail{ReceivedAt: receivedAt}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		m.From = from[0].Address
	}
	if id, err := mr.Header.MessageID(); err == nil {
		m.MessageID = id
	}
	if m.ReceivedAt.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			m.ReceivedAt = date
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			// 已读到的正文仍然可用
			if m.Text != "" || m.HTML != "" {
				break
			}
			return nil, fmt.Errorf("读取邮件部分失败: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue // 附件
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if m.Text == "" {
				m.Text = string(b)
			}
		case "text/html":
			if m.HTML == "" {
				m.HTML = string(b)
			}
		}
	}

	return m, nil
}
