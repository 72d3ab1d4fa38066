package mail

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
)

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{Port: 587, Username: "u"}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Username: "u"}); err == nil {
		t.Fatal("expected error for missing port")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587}); err == nil {
		t.Fatal("expected error for missing username")
	}

	mailer, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "portal@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPMailer returned error: %v", err)
	}
	if mailer.cfg.From != "portal@example.com" {
		t.Errorf("expected from to default to username, got %s", mailer.cfg.From)
	}
}

func TestSendBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	original := sendMail
	sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotFrom = from
		gotTo = to
		gotMsg = msg
		return nil
	}
	t.Cleanup(func() { sendMail = original })

	mailer, err := NewSMTPMailer(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "portal@example.com",
		Password: "pw",
	})
	if err != nil {
		t.Fatalf("NewSMTPMailer returned error: %v", err)
	}

	err = mailer.Send(context.Background(), "jane@example.com", "Your code\r\nX-Evil: 1", "Hello")
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("unexpected addr: %s", gotAddr)
	}
	if gotFrom != "portal@example.com" {
		t.Errorf("unexpected from: %s", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "jane@example.com" {
		t.Errorf("unexpected recipients: %v", gotTo)
	}
	message := string(gotMsg)
	if !strings.Contains(message, "Subject: Your code  X-Evil: 1\r\n") {
		t.Errorf("expected sanitized subject header, got:\n%s", message)
	}
	if !strings.HasSuffix(message, "\r\n\r\nHello") {
		t.Errorf("expected body after blank line, got:\n%s", message)
	}
}

func TestSendRejectsEmptyRecipient(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u"})
	if err != nil {
		t.Fatalf("NewSMTPMailer returned error: %v", err)
	}
	if err := mailer.Send(context.Background(), "", "s", "b"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestSendHonoursCancelledContext(t *testing.T) {
	called := false
	original := sendMail
	sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}
	t.Cleanup(func() { sendMail = original })

	mailer, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u"})
	if err != nil {
		t.Fatalf("NewSMTPMailer returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mailer.Send(ctx, "jane@example.com", "s", "b"); err == nil {
		t.Fatal("expected context error")
	}
	if called {
		t.Fatal("expected no send attempt after cancellation")
	}
}
