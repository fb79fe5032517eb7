package dmtp

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/lavabitllc/dimeresolve/log"
)

func TestSplitReplyLine(t *testing.T) {
	cases := []struct {
		line    string
		code    int
		sep     byte
		text    string
		wantErr bool
	}{
		{"250 OK", 250, ' ', "OK", false},
		{"250-more coming", 250, '-', "more coming", false},
		{"250", 250, ' ', "", false},
		{"not-a-code", 0, 0, "", true},
	}
	for _, c := range cases {
		code, sep, text, err := splitReplyLine(c.line)
		if c.wantErr {
			if err == nil {
				t.Errorf("splitReplyLine(%q): expected error", c.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("splitReplyLine(%q): %v", c.line, err)
		}
		if code != c.code || sep != c.sep || text != c.text {
			t.Errorf("splitReplyLine(%q) = (%d, %q, %q), want (%d, %q, %q)",
				c.line, code, string(sep), text, c.code, string(c.sep), c.text)
		}
	}
}

func TestReadReplyMultiLine(t *testing.T) {
	buf := bytes.NewBufferString("250-first\r\n250-second\r\n250 third\r\n")
	lr := newLineReader(buf)
	reply, err := readReply(lr)
	if err != nil {
		t.Fatalf("readReply: %v", err)
	}
	if reply.Code != 250 {
		t.Fatalf("Code = %d, want 250", reply.Code)
	}
	if reply.Text != "first\nsecond\nthird" {
		t.Fatalf("Text = %q", reply.Text)
	}
}

func TestReadReplyRejectsMismatchedCode(t *testing.T) {
	buf := bytes.NewBufferString("250-first\r\n251 second\r\n")
	lr := newLineReader(buf)
	if _, err := readReply(lr); err == nil {
		t.Fatalf("expected error for mismatched continuation code")
	}
}

func TestLineReaderOverflow(t *testing.T) {
	oversized := strings.Repeat("a", maxLineLength+100)
	buf := bytes.NewBufferString(oversized + "\r\n250 OK\r\n")
	lr := newLineReader(buf)

	_, overflow, err := lr.readLine()
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if !overflow {
		t.Fatalf("expected overflow on oversized line")
	}

	line, overflow, err := lr.readLine()
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if overflow {
		t.Fatalf("did not expect overflow on the following normal line")
	}
	if line != "250 OK" {
		t.Fatalf("line = %q", line)
	}
}

// fakeServer drives one side of a net.Pipe, reading CRLF-terminated
// commands and writing back canned replies, to exercise Client against a
// synthetic DMTP peer without a real socket.
type fakeServer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, reader: bufio.NewReader(conn)}
}

func (f *fakeServer) send(s string) {
	f.conn.Write([]byte(s))
}

func (f *fakeServer) readCommand() string {
	line, _ := f.reader.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func TestReadBannerAcceptsDMTPv1(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		server.Write([]byte("220 mail.example.com DMTPv1 ready\r\n"))
	}()

	c := newClient(client, "mail.example.com", ModeNative, log.Logger{})
	if err := c.readBanner(); err != nil {
		t.Fatalf("readBanner: %v", err)
	}
	if c.State() != StateGreeted {
		t.Fatalf("state = %v, want GREETED", c.State())
	}
}

func TestReadBannerRejectsMissingToken(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		server.Write([]byte("220 mail.example.com ready\r\n"))
	}()

	c := newClient(client, "mail.example.com", ModeNative, log.Logger{})
	if err := c.readBanner(); err == nil {
		t.Fatalf("expected error for banner missing DMTPv1 token")
	}
}

func TestMailRcptDataHappyPath(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := newFakeServer(serverConn)
		fs.send("220 mail.example.com DMTPv1 ready\r\n")
		if cmd := fs.readCommand(); !strings.HasPrefix(cmd, "EHLO") {
			t.Errorf("expected EHLO, got %q", cmd)
		}
		fs.send("250-mail.example.com\r\n250 OK\r\n")
		if cmd := fs.readCommand(); !strings.HasPrefix(cmd, "MAIL FROM:") {
			t.Errorf("expected MAIL, got %q", cmd)
		}
		fs.send("250 OK\r\n")
		if cmd := fs.readCommand(); !strings.HasPrefix(cmd, "RCPT TO:") {
			t.Errorf("expected RCPT, got %q", cmd)
		}
		fs.send("250 OK\r\n")
		if cmd := fs.readCommand(); cmd != "DATA" {
			t.Errorf("expected DATA, got %q", cmd)
		}
		fs.send("354 CONTINUE\r\n")
		payload, _ := fs.reader.ReadString('\n')
		if !strings.Contains(payload, "hello") {
			t.Errorf("expected payload containing hello, got %q", payload)
		}
		fs.send("250 OK txid-123\r\n")
	}()

	c := newClient(clientConn, "mail.example.com", ModeNative, log.Logger{})
	if err := c.readBanner(); err != nil {
		t.Fatalf("readBanner: %v", err)
	}
	if _, err := c.Ehlo("client.example.com"); err != nil {
		t.Fatalf("Ehlo: %v", err)
	}
	if err := c.Mail(MailOptions{From: "alice@example.com", Size: 100}); err != nil {
		t.Fatalf("Mail: %v", err)
	}
	if c.State() != StateHaveSender {
		t.Fatalf("state = %v, want HAVE_SENDER", c.State())
	}
	if err := c.Rcpt("bob@example.com", ""); err != nil {
		t.Fatalf("Rcpt: %v", err)
	}
	if c.State() != StateHaveRecipients {
		t.Fatalf("state = %v, want HAVE_RECIPIENTS", c.State())
	}
	txid, err := c.Data("", []byte("hello"))
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if txid != "txid-123" {
		t.Fatalf("txid = %q, want txid-123", txid)
	}
	if c.State() != StateReady {
		t.Fatalf("state = %v, want READY after DATA completes", c.State())
	}
	<-done
}

func TestImplicitResetOnMailFailure(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := newFakeServer(serverConn)
		fs.send("220 mail.example.com DMTPv1 ready\r\n")
		fs.readCommand() // EHLO
		fs.send("250 OK\r\n")
		fs.readCommand() // MAIL
		fs.send("550 mailbox unavailable\r\n")
	}()

	c := newClient(clientConn, "mail.example.com", ModeNative, log.Logger{})
	c.readBanner()
	c.Ehlo("client.example.com")
	if err := c.Mail(MailOptions{From: "alice@example.com"}); err == nil {
		t.Fatalf("expected MAIL failure to surface as an error")
	}
	if c.State() != StateReady {
		t.Fatalf("state = %v, want implicit-RSET back to READY", c.State())
	}
	<-done
}

func TestRcptRefusedBeforeMail(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()
	c := newClient(clientConn, "mail.example.com", ModeNative, log.Logger{})
	c.state = StateReady
	if err := c.Rcpt("bob@example.com", ""); err == nil {
		t.Fatalf("expected RCPT without a preceding MAIL to be refused locally")
	}
}

func TestVrfyParsesCurrentAndUpdate(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fs := newFakeServer(serverConn)
		fs.readCommand()
		fs.send("250 CURRENT\r\n")
		fs.readCommand()
		fs.send("250 UPDATE abcd1234\r\n")
	}()

	c := newClient(clientConn, "mail.example.com", ModeNative, log.Logger{})
	c.state = StateReady

	res, err := c.Vrfy("bob@example.com", "fp1")
	if err != nil {
		t.Fatalf("Vrfy: %v", err)
	}
	if !res.Current {
		t.Fatalf("expected CURRENT result")
	}

	res, err = c.Vrfy("bob@example.com", "fp1")
	if err != nil {
		t.Fatalf("Vrfy: %v", err)
	}
	if res.Current || res.NewFingerprint != "abcd1234" {
		t.Fatalf("expected UPDATE abcd1234, got %+v", res)
	}
	<-done
}
