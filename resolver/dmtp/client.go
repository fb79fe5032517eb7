package dmtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/lavabitllc/dimeresolve/log"
)

// Mode identifies which transport a session was established over.
type Mode int

const (
	ModeNative Mode = iota
	ModeDual
)

// Client is one DMTP session: a connection plus the state machine of
// spec §4.E. Not safe for concurrent use by multiple goroutines, mirrors
// foxcpp-maddy/internal/smtpconn.C's single-session-per-object contract.
type Client struct {
	conn      net.Conn
	lr        *lineReader
	state     State
	mode      Mode
	modeName  string
	host      string
	sessionID uuid.UUID
	Logger    log.Logger
}

func newClient(conn net.Conn, host string, mode Mode, logger log.Logger) *Client {
	id, err := uuid.NewRandom()
	if err != nil {
		// Practically only fails if the system entropy source is
		// broken; a zero UUID just means session correlation in logs
		// degrades, not a functional failure.
		id = uuid.UUID{}
	}
	return &Client{
		conn:      conn,
		lr:        newLineReader(conn),
		state:     StateConnected,
		mode:      mode,
		host:      host,
		sessionID: id,
		Logger:    logger.With("session", id.String()),
	}
}

// SessionID returns the client-generated correlation id for this DMTP
// session, used only in log fields.
func (c *Client) SessionID() uuid.UUID { return c.sessionID }

// State returns the session's current position in the state machine.
func (c *Client) State() State { return c.state }

// Host returns the hostname this session actually connected to (a
// delivery host, an MX host, or the bare domain), for hostname matching
// against the peer certificate.
func (c *Client) Host() string { return c.host }

func (c *Client) writeLine(line string) error {
	_, err := io.WriteString(c.conn, line+"\r\n")
	return err
}

func (c *Client) command(line string) (Reply, error) {
	if err := c.writeLine(line); err != nil {
		return Reply{}, err
	}
	return readReply(c.lr)
}

// readBanner reads the post-connect greeting: code 220, with the token
// "DMTPv1" present among the whitespace-separated tokens of the text.
func (c *Client) readBanner() error {
	line, overflow, err := c.lr.readLine()
	if err != nil {
		c.state = StateClosed
		return fmt.Errorf("dmtp: reading banner: %w", err)
	}
	if overflow {
		c.state = StateClosed
		return fmt.Errorf("dmtp: banner line exceeded %d bytes", maxLineLength)
	}
	code, _, text, err := splitReplyLine(line)
	if err != nil {
		c.state = StateClosed
		return err
	}
	if code != 220 {
		c.state = StateClosed
		return fmt.Errorf("dmtp: unexpected banner code %d", code)
	}
	found := false
	for _, tok := range strings.Fields(text) {
		if tok == "DMTPv1" {
			found = true
			break
		}
	}
	if !found {
		c.state = StateClosed
		return fmt.Errorf("dmtp: banner missing DMTPv1 token: %q", text)
	}
	c.state = StateGreeted
	return nil
}

// StartTLS performs the dual-mode upgrade sequence: sends
// "STARTTLS <host> MODE=DMTPv1", requires a 2xx final reply, then
// initiates TLS on the same descriptor and reads the post-handshake
// "OK <mode>" line.
func (c *Client) StartTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if c.state != StateGreeted {
		return errWrongState("STARTTLS", c.state)
	}
	reply, err := c.command(fmt.Sprintf("STARTTLS %s MODE=DMTPv1", c.host))
	if err != nil {
		return err
	}
	if !reply.Ok() {
		return replyError("STARTTLS", reply)
	}

	tlsConn := tls.Client(c.conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("dmtp: TLS handshake failed: %w", err)
	}
	c.conn = tlsConn
	c.lr = newLineReader(tlsConn)

	line, overflow, err := c.lr.readLine()
	if err != nil {
		return fmt.Errorf("dmtp: reading post-STARTTLS line: %w", err)
	}
	if overflow {
		return fmt.Errorf("dmtp: post-STARTTLS line exceeded %d bytes", maxLineLength)
	}
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "OK" {
		return fmt.Errorf("dmtp: expected \"OK <mode>\" after STARTTLS, got %q", line)
	}
	c.modeName = fields[1]
	return nil
}

// ConnectionState returns the underlying TLS connection state; callers
// pass this to tlsbind.Verifier.Verify. Only valid once the session is
// running over TLS (native mode, or post-StartTLS in dual mode).
func (c *Client) ConnectionState() (tls.ConnectionState, bool) {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

func errWrongState(verb string, s State) error {
	return fmt.Errorf("dmtp: %s not permitted in state %s", verb, s)
}

func replyError(verb string, r Reply) error {
	return fmt.Errorf("dmtp: %s rejected: %d %s", verb, r.Code, r.Text)
}

// Helo/Ehlo transition GREETED → READY.

func (c *Client) Helo(host string) error {
	if c.state != StateGreeted {
		return errWrongState("HELO", c.state)
	}
	reply, err := c.command("HELO " + host)
	if err != nil {
		return err
	}
	if !reply.Ok() {
		return replyError("HELO", reply)
	}
	c.state = StateReady
	return nil
}

func (c *Client) Ehlo(host string) (Reply, error) {
	if c.state != StateGreeted {
		return Reply{}, errWrongState("EHLO", c.state)
	}
	reply, err := c.command("EHLO " + host)
	if err != nil {
		return Reply{}, err
	}
	if !reply.Ok() {
		return reply, replyError("EHLO", reply)
	}
	c.state = StateReady
	return reply, nil
}

func (c *Client) requireReady(verb string) error {
	if c.state != StateReady {
		return errWrongState(verb, c.state)
	}
	return nil
}

func (c *Client) Mode() (string, error) {
	if err := c.requireReady("MODE"); err != nil {
		return "", err
	}
	reply, err := c.command("MODE")
	if err != nil {
		return "", err
	}
	if !reply.Ok() {
		return "", replyError("MODE", reply)
	}
	fields := strings.Fields(reply.Text)
	if len(fields) < 2 || fields[0] != "OK" {
		return "", fmt.Errorf("dmtp: malformed MODE reply %q", reply.Text)
	}
	return fields[1], nil
}

func (c *Client) Rset() error {
	reply, err := c.command("RSET")
	if err != nil {
		return err
	}
	if !reply.Ok() {
		return replyError("RSET", reply)
	}
	c.state = StateReady
	return nil
}

func (c *Client) Noop(args ...string) error {
	if len(args) > 3 {
		return fmt.Errorf("dmtp: NOOP accepts at most 3 arguments")
	}
	reply, err := c.command(strings.TrimSpace("NOOP " + strings.Join(args, " ")))
	if err != nil {
		return err
	}
	if !reply.Ok() {
		return replyError("NOOP", reply)
	}
	return nil
}

func (c *Client) Help() (string, error) {
	reply, err := c.command("HELP")
	if err != nil {
		return "", err
	}
	if !reply.Ok() {
		return "", replyError("HELP", reply)
	}
	return reply.Text, nil
}

func (c *Client) Quit() error {
	reply, err := c.command("QUIT")
	c.state = StateClosed
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	if !reply.Ok() {
		return replyError("QUIT", reply)
	}
	return closeErr
}

// MailOptions carries MAIL FROM's arguments.
type MailOptions struct {
	From        string
	Fingerprint string
	Size        int64
	Return      string
	Data        string
}

func (c *Client) Mail(opts MailOptions) error {
	if err := c.requireReady("MAIL"); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MAIL FROM:<%s>", opts.From)
	if opts.Fingerprint != "" {
		fmt.Fprintf(&b, " [%s]", opts.Fingerprint)
	}
	fmt.Fprintf(&b, " SIZE=%d", opts.Size)
	if opts.Return != "" {
		fmt.Fprintf(&b, " RETURN=%s", opts.Return)
	}
	if opts.Data != "" {
		fmt.Fprintf(&b, " DATA=%s", opts.Data)
	}
	reply, err := c.command(b.String())
	if err != nil {
		return err
	}
	if !reply.Ok() {
		c.state = StateReady // implicit RSET: abandon the envelope
		return replyError("MAIL", reply)
	}
	c.state = StateHaveSender
	return nil
}

func (c *Client) Rcpt(addr, fingerprint string) error {
	if c.state != StateHaveSender && c.state != StateHaveRecipients {
		return errWrongState("RCPT", c.state)
	}
	line := fmt.Sprintf("RCPT TO:<%s>", addr)
	if fingerprint != "" {
		line += " [" + fingerprint + "]"
	}
	reply, err := c.command(line)
	if err != nil {
		return err
	}
	if !reply.Ok() {
		c.state = StateReady // implicit RSET
		return replyError("RCPT", reply)
	}
	c.state = StateHaveRecipients
	return nil
}

// Data sends payload as a DATA transaction: the command line, the
// CONTINUE handshake, the raw bytes, and the trailing CRLF, returning
// the server-assigned transaction id if present.
func (c *Client) Data(fingerprint string, payload []byte) (txid string, err error) {
	if c.state != StateHaveRecipients {
		return "", errWrongState("DATA", c.state)
	}
	line := "DATA"
	if fingerprint != "" {
		line += " [" + fingerprint + "]"
	}
	reply, err := c.command(line)
	if err != nil {
		return "", err
	}
	if reply.Code < 300 || reply.Code >= 400 {
		c.state = StateReady // implicit RSET
		return "", replyError("DATA", reply)
	}

	if _, err := c.conn.Write(payload); err != nil {
		return "", err
	}
	if _, err := io.WriteString(c.conn, "\r\n"); err != nil {
		return "", err
	}

	final, err := readReply(c.lr)
	if err != nil {
		return "", err
	}
	if !final.Ok() {
		c.state = StateReady // implicit RSET
		return "", replyError("DATA", final)
	}
	c.state = StateReady
	fields := strings.Fields(final.Text)
	if len(fields) >= 2 && fields[0] == "OK" {
		txid = fields[1]
	}
	return txid, nil
}

// Sgnt issues SGNT for a user address or a bare domain (mutually
// exclusive), returning the base64-encoded signet payload.
func (c *Client) Sgnt(target, fingerprint string) (string, error) {
	if err := c.requireReady("SGNT"); err != nil {
		return "", err
	}
	line := "SGNT " + target
	if fingerprint != "" {
		line += " [" + fingerprint + "]"
	}
	reply, err := c.command(line)
	if err != nil {
		return "", err
	}
	if !reply.Ok() {
		return "", replyError("SGNT", reply)
	}
	fields := strings.Fields(reply.Text)
	if len(fields) < 2 || fields[0] != "OK" {
		return "", fmt.Errorf("dmtp: malformed SGNT reply %q", reply.Text)
	}
	return fields[1], nil
}

func (c *Client) Hist(addr, startFingerprint, stopFingerprint string) (string, error) {
	if err := c.requireReady("HIST"); err != nil {
		return "", err
	}
	line := "HIST " + addr
	if startFingerprint != "" {
		line += " " + startFingerprint
	}
	if stopFingerprint != "" {
		line += " " + stopFingerprint
	}
	reply, err := c.command(line)
	if err != nil {
		return "", err
	}
	if !reply.Ok() {
		return "", replyError("HIST", reply)
	}
	return reply.Text, nil
}

// VrfyResult is VRFY's two possible outcomes: the cached fingerprint is
// still current, or a newer fingerprint has superseded it.
type VrfyResult struct {
	Current        bool
	NewFingerprint string
}

func (c *Client) Vrfy(target, fingerprint string) (VrfyResult, error) {
	if err := c.requireReady("VRFY"); err != nil {
		return VrfyResult{}, err
	}
	line := "VRFY " + target
	if fingerprint != "" {
		line += " [" + fingerprint + "]"
	}
	reply, err := c.command(line)
	if err != nil {
		return VrfyResult{}, err
	}
	if !reply.Ok() {
		return VrfyResult{}, replyError("VRFY", reply)
	}
	fields := strings.Fields(reply.Text)
	if len(fields) == 0 {
		return VrfyResult{}, fmt.Errorf("dmtp: empty VRFY reply")
	}
	switch fields[0] {
	case "CURRENT":
		return VrfyResult{Current: true}, nil
	case "UPDATE":
		if len(fields) < 2 {
			return VrfyResult{}, fmt.Errorf("dmtp: UPDATE reply missing new fingerprint")
		}
		return VrfyResult{NewFingerprint: fields[1]}, nil
	default:
		return VrfyResult{}, fmt.Errorf("dmtp: unrecognized VRFY reply %q", reply.Text)
	}
}

// Stats issues STATS, transparently completing the optional nonce
// challenge round if the server demands one.
func (c *Client) Stats() (string, error) {
	if err := c.requireReady("STATS"); err != nil {
		return "", err
	}
	reply, err := c.command("STATS")
	if err != nil {
		return "", err
	}
	if !reply.Ok() {
		return "", replyError("STATS", reply)
	}
	lines := strings.SplitN(reply.Text, "\n", 2)
	if len(lines) > 0 && strings.HasPrefix(lines[0], "NONCE ") {
		nonce := strings.TrimSpace(strings.TrimPrefix(lines[0], "NONCE "))
		reply, err = c.command("STATS " + nonce)
		if err != nil {
			return "", err
		}
		if !reply.Ok() {
			return "", replyError("STATS", reply)
		}
	}
	return reply.Text, nil
}
