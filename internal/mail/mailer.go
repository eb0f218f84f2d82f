// Package mail はパスワードリセットメールの送信を提供する。
package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Sender はパスワードリセットメールの送信インターフェース。
type Sender interface {
	SendPasswordReset(ctx context.Context, to, userName, link string) error
}

// 件名
const passwordResetSubject = "パスワードリセットのご案内"

// SMTPMailer はSMTPサーバー経由でメールを送信する。
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// SendPasswordReset はリセット用リンクを記載したメールを送信する。
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, userName, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := m.buildPasswordResetMessage(to, userName, link)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("パスワードリセットメールの送信に失敗しました: %w", err)
	}

	slog.Info("パスワードリセットメールを送信しました",
		slog.String("to", to),
	)
	return nil
}

func (m *SMTPMailer) buildPasswordResetMessage(to, userName, link string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", passwordResetSubject)
	msg.SetBody("text/plain", passwordResetBody(userName, link))
	msg.AddAlternative("text/html", passwordResetHTMLBody(userName, link))
	return msg
}

// passwordResetBody はリセットメールの本文を組み立てる。
func passwordResetBody(userName, link string) string {
	return fmt.Sprintf(`%s さん

パスワードリセットのリクエストを受け付けました。
以下のリンクから新しいパスワードを設定してください。

%s

このリンクは一度だけ使用できます。
心当たりがない場合は、このメールを破棄してください。
`, userName, link)
}

// passwordResetHTMLBody はHTMLメールクライアント向けの本文を組み立てる。
func passwordResetHTMLBody(userName, link string) string {
	return fmt.Sprintf(`<p>%s さん</p>
<p>パスワードリセットのリクエストを受け付けました。<br>
以下のリンクから新しいパスワードを設定してください。</p>
<p><a href="%s">パスワードを再設定する</a></p>
<p>このリンクは一度だけ使用できます。<br>
心当たりがない場合は、このメールを破棄してください。</p>
`, html.EscapeString(userName), html.EscapeString(link))
}

var _ Sender = (*SMTPMailer)(nil)

// LogMailer はメールを送信せずにログへ記録する。
// SMTPが未設定の開発環境で使用する。
type LogMailer struct{}

// SendPasswordReset は送信先のみをログに記録する。リンクはDEBUGレベルでのみ出力する。
func (LogMailer) SendPasswordReset(ctx context.Context, to, userName, link string) error {
	slog.Info("SMTPが未設定のためパスワードリセットメールを送信しません",
		slog.String("to", to),
	)
	slog.Debug("パスワードリセットリンク",
		slog.String("to", to),
		slog.String("link", link),
	)
	return nil
}

var _ Sender = LogMailer{}

// New はSMTPホストが設定されていればSMTPMailerを、未設定ならLogMailerを返す。
func New(host string, port int, username, password, from string) Sender {
	if host == "" {
		return LogMailer{}
	}
	return NewSMTPMailer(host, port, username, password, from)
}
