package kiro

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// callbackResult is what the line-oriented listener reports back to the
// PKCE flow once it has seen the single inbound request it is waiting for.
type callbackResult struct {
	Code  string
	State string
	Error string
}

const successPage = "HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=utf-8\r\nConnection: close\r\n\r\n" +
	"<html><body><h1>Authentication successful</h1><p>You can close this window.</p></body></html>"

const badRequestPage = "HTTP/1.1 400 Bad Request\r\nContent-Type: text/html; charset=utf-8\r\nConnection: close\r\n\r\n" +
	"<html><body><h1>Authentication failed</h1></body></html>"

const noContentResponse = "HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n"

// callbackListener accepts exactly one inbound GET /oauth/callback request
// on a bound TCP port, per §4.3's PKCE flow step 6. It is line-oriented: it
// parses the request line off the raw net.Conn and consumes headers until a
// blank line, rather than handing the connection to net/http's ServeMux —
// the teacher's oauth_server.go uses net/http for its callback server; this
// gateway adapts the same accept-loop/result-channel shape onto a minimal
// hand-rolled line reader so the 204-on-malformed-request and exact
// state-mismatch behaviour in §4.3 is explicit rather than routed through
// ServeMux's own 404/405 handling.
type callbackListener struct {
	listener net.Listener
	port     int
	results  chan callbackResult
}

// listenOnFreePort probes ports in [start, end] and binds the first free
// one (§4.3 step 4).
func listenOnFreePort(start, end int) (*callbackListener, error) {
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		return &callbackListener{listener: ln, port: port, results: make(chan callbackResult, 1)}, nil
	}
	return nil, fmt.Errorf("kiro: no free port in range %d-%d", start, end)
}

func (l *callbackListener) redirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/oauth/callback", l.port)
}

// serve accepts exactly one connection carrying GET /oauth/callback…,
// validates its state against expectedState, and delivers the result. It
// runs until ctx is cancelled or one matching request has been handled.
func (l *callbackListener) serve(ctx context.Context, expectedState string) {
	defer l.listener.Close()

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			return
		}
		if l.handle(conn, expectedState) {
			return
		}
	}
}

// handle processes one connection and returns true once the flow is
// resolved (a matching callback was seen, successfully or not).
func (l *callbackListener) handle(conn net.Conn, expectedState string) bool {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}

	method, target, ok := parseRequestLine(requestLine)
	if !ok || method != "GET" || !strings.HasPrefix(target, "/oauth/callback") {
		_, _ = conn.Write([]byte(noContentResponse))
		return false
	}

	u, err := url.Parse(target)
	if err != nil {
		_, _ = conn.Write([]byte(badRequestPage))
		return true
	}
	q := u.Query()

	if errParam := q.Get("error"); errParam != "" {
		_, _ = conn.Write([]byte(badRequestPage))
		l.deliver(callbackResult{Error: errParam})
		return true
	}

	state := q.Get("state")
	if state != expectedState {
		_, _ = conn.Write([]byte(badRequestPage))
		l.deliver(callbackResult{Error: "state_mismatch"})
		return true
	}

	_, _ = conn.Write([]byte(successPage))
	l.deliver(callbackResult{Code: q.Get("code"), State: state})
	return true
}

func (l *callbackListener) deliver(r callbackResult) {
	select {
	case l.results <- r:
	default:
	}
}

func parseRequestLine(line string) (method, target string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}
