package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"mailtrader/pkg/logger"
	"mailtrader/signal"
)

// Config IMAP 邮箱配置
type Config struct {
	Addr           string // host:port
	User           string
	Password       string
	Mailbox        string
	ReconnectDelay time.Duration
	TLSConfig      *tls.Config
}

// Handler 每封新邮件回调一次
type Handler func(ctx context.Context, m *signal.Mail) error

// Monitor 邮件源：登录后 IDLE 等待新邮件，拉取并解码后交给 Handler。
// 只读打开邮箱，不会把邮件标记为已读。连接断开后固定延迟重连。
// 已拉取到的 UID 游标跨会话保留，重连后从断点补拉，UIDVALIDITY 变化时才重置。
type Monitor struct {
	cfg     Config
	handler Handler
	log     *zap.Logger
	dial    func(addr string, tlsConfig *tls.Config) (*client.Client, error)

	// 只在 Run 所在的 goroutine 中读写
	uidValidity uint32
	nextUID     uint32
}

func NewMonitor(cfg Config, handler Handler, log *zap.Logger) *Monitor {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Monitor{
		cfg:     cfg,
		handler: handler,
		log:     logger.OrNop(log),
		dial:    client.DialTLS,
	}
}

// Run 阻塞运行直到 ctx 取消
func (m *Monitor) Run(ctx context.Context) {
	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			m.log.Info("📭 邮件监听已停止")
			return
		}
		m.log.Error("📪 邮件监听断开，稍后重连",
			zap.Error(err),
			zap.Duration("delay", m.cfg.ReconnectDelay))

		select {
		case <-time.After(m.cfg.ReconnectDelay):
		case <-ctx.Done():
			m.log.Info("📭 邮件监听已停止")
			return
		}
	}
}

// session 一次完整的连接生命周期，返回断开原因
func (m *Monitor) session(ctx context.Context) error {
	c, err := m.dial(m.cfg.Addr, m.cfg.TLSConfig)
	if err != nil {
		return fmt.Errorf("连接IMAP失败: %w", err)
	}
	defer c.Logout()

	updates := make(chan client.Update, 64)
	c.Updates = updates

	if err := c.Login(m.cfg.User, m.cfg.Password); err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}

	status, err := c.Select(m.cfg.Mailbox, true)
	if err != nil {
		return fmt.Errorf("选择邮箱 %s 失败: %w", m.cfg.Mailbox, err)
	}
	resumed := m.resume(status)

	m.log.Info("📧 邮件监听已连接",
		zap.String("user", m.cfg.User),
		zap.String("mailbox", m.cfg.Mailbox),
		zap.Uint32("next_uid", m.nextUID),
		zap.Bool("resumed", resumed))

	// 断线期间到达的邮件
	if resumed {
		if err := m.fetchNew(ctx, c); err != nil {
			return err
		}
	}

	m.log.Info("👂 等待新的告警邮件...")
	for {
		hasNew, err := waitForMail(ctx, c, updates)
		if err != nil {
			return err
		}
		if !hasNew {
			continue
		}
		if err := m.fetchNew(ctx, c); err != nil {
			return err
		}
	}
}

// resume 首次连接或 UIDVALIDITY 变化时从 UIDNEXT 开始，否则沿用上次的游标
func (m *Monitor) resume(status *imap.MailboxStatus) bool {
	if m.nextUID != 0 && m.uidValidity == status.UidValidity {
		return true
	}
	if m.nextUID != 0 {
		m.log.Warn("⚠️ 邮箱 UIDVALIDITY 已变化，从最新位置开始",
			zap.Uint32("old", m.uidValidity),
			zap.Uint32("new", status.UidValidity))
	}
	m.uidValidity = status.UidValidity
	m.nextUID = status.UidNext
	if m.nextUID == 0 {
		m.nextUID = 1
	}
	return false
}

// waitForMail IDLE 直到邮箱有变化；IDLE 自行结束时返回 false
func waitForMail(ctx context.Context, c *client.Client, updates <-chan client.Update) (bool, error) {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Idle(stop, nil)
	}()

	for {
		select {
		case upd := <-updates:
			if _, ok := upd.(*client.MailboxUpdate); !ok {
				continue
			}
			close(stop)
			return true, drainUntil(done, updates)
		case err := <-done:
			return false, err
		case <-ctx.Done():
			close(stop)
			_ = drainUntil(done, updates)
			return false, ctx.Err()
		}
	}
}

// drainUntil 等待 IDLE 结束，期间继续消费更新避免阻塞客户端
func drainUntil(done <-chan error, updates <-chan client.Update) error {
	for {
		select {
		case err := <-done:
			return err
		case <-updates:
		}
	}
}

type fetchedMail struct {
	uid  uint32
	mail *signal.Mail // 无法解码时为 nil，只推进游标
}

// fetchNew 拉取 UID >= nextUID 的邮件，按 UID 顺序交给 Handler 并逐封推进游标。
// Handler 出错时游标停在该邮件，下次会话会重新拉取。
func (m *Monitor) fetchNew(ctx context.Context, c *client.Client) error {
	next := m.nextUID
	seqset := new(imap.SeqSet)
	seqset.AddRange(next, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var fetched []fetchedMail
	for msg := range messages {
		// "next:*" 在没有新邮件时也会返回最后一封
		if msg.Uid < next {
			continue
		}
		fetched = append(fetched, fetchedMail{uid: msg.Uid, mail: m.decode(msg, section)})
	}
	if err := <-done; err != nil {
		return fmt.Errorf("拉取邮件失败: %w", err)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].uid < fetched[j].uid })
	for _, f := range fetched {
		if f.mail != nil {
			m.log.Debug("📩 收到新邮件",
				zap.Uint32("uid", f.uid),
				zap.String("from", f.mail.From),
				zap.String("message_id", f.mail.MessageID))
			if err := m.handler(ctx, f.mail); err != nil {
				return err
			}
		}
		m.nextUID = f.uid + 1
	}
	return nil
}

func (m *Monitor) decode(msg *imap.Message, section *imap.BodySectionName) *signal.Mail {
	r := msg.GetBody(section)
	if r == nil {
		m.log.Warn("⚠️ 邮件没有正文", zap.Uint32("uid", msg.Uid))
		return nil
	}
	mail, err := ParseMessage(r, msg.InternalDate)
	if err != nil {
		m.log.Warn("⚠️ 解析邮件失败", zap.Uint32("uid", msg.Uid), zap.Error(err))
		return nil
	}
	if mail.From == "" && msg.Envelope != nil && len(msg.Envelope.From) > 0 {
		mail.From = msg.Envelope.From[0].Address()
	}
	if mail.MessageID == "" && msg.Envelope != nil {
		mail.MessageID = envelopeMessageID(msg.Envelope.MessageId)
	}
	return mail
}

// envelopeMessageID 与 mail.Header.MessageID 保持一致：去掉尖括号
func envelopeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	return strings.TrimSuffix(id, ">")
}
