package mail

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	body, err := Render(Message{
		To:       []string{"a@example.com"},
		Template: TemplateConfirmAccount,
		Data:     map[string]any{"Name": "Ada <Lovelace>", "Code": "abc-123", "Link": "https://shop.example/confirm?code=abc-123"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(body, "abc-123") || !strings.Contains(body, "https://shop.example/confirm?code=abc-123") {
		t.Errorf("body missing code or link: %s", body)
	}
	if strings.Contains(body, "<Lovelace>") {
		t.Error("template data should be HTML-escaped")
	}
}

func TestRender_Errors(t *testing.T) {
	if _, err := Render(Message{Template: TemplateResetPassword}); err == nil {
		t.Error("no recipients should fail")
	}
	if _, err := Render(Message{To: []string{"a@example.com"}, Template: "missing.html"}); err == nil {
		t.Error("unknown template should fail")
	}
}

// fakeSMTP accepts one session and returns the DATA payload.
func fakeSMTP(t *testing.T) (addr string, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { conn.Write([]byte(s + "\r\n")) }
		reply("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				out <- b.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("500 unknown")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestSMTPSender_Send(t *testing.T) {
	addr, data := fakeSMTP(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "noreply@pharma.example"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Send(ctx, Message{
		To:       []string{"buyer@example.com"},
		Subject:  "Reset Password",
		Template: TemplateResetPassword,
		Data:     map[string]any{"Name": "Bob", "Code": "reset-code"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case payload := <-data:
		if !strings.Contains(payload, "Subject: Reset Password") || !strings.Contains(payload, "reset-code") {
			t.Errorf("payload = %q", payload)
		}
		if !strings.Contains(payload, "Content-Type: text/html") {
			t.Error("payload should be HTML")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server received no data")
	}
}

func TestSMTPSender_DialFailure(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1})
	err := s.Send(context.Background(), Message{To: []string{"a@example.com"}, Template: TemplateConfirmAccount})
	if err == nil {
		t.Fatal("Send to a closed port should fail")
	}
}

func TestLogSender(t *testing.T) {
	if err := (LogSender{}).Send(context.Background(), Message{To: []string{"a@example.com"}, Template: TemplateConfirmAccount}); err != nil {
		t.Errorf("LogSender.Send: %v", err)
	}
}
