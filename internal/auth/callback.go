package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
)

// CallbackResult is what the local OAuth callback server hands back.
type CallbackResult struct {
	Code string
	Port int
}

// CallbackServer listens on localhost for the OAuth redirect during an
// interactive login. Port 0 lets the OS choose; the chosen port is
// available before the authorization URL is built.
type CallbackServer struct {
	listener net.Listener
	server   *http.Server
	codeCh   chan string
	errCh    chan error
}

// StartCallbackServer binds the listener immediately so the caller can
// embed the real port into the redirect URI.
func StartCallbackServer(port int, expectedState string) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding callback listener: %w", err)
	}

	cs := &CallbackServer{
		listener: listener,
		codeCh:   make(chan string, 1),
		errCh:    make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if state := q.Get("state"); state != expectedState {
			http.Error(w, "Invalid state", http.StatusBadRequest)
			cs.errCh <- fmt.Errorf("oauth callback: state mismatch")
			return
		}
		if errStr := q.Get("error"); errStr != "" {
			http.Error(w, "Authorization failed: "+errStr, http.StatusBadRequest)
			cs.errCh <- &OAuthError{Code: errStr, Description: q.Get("error_description")}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "No code received", http.StatusBadRequest)
			cs.errCh <- fmt.Errorf("oauth callback: no code received")
			return
		}

		fmt.Fprint(w, "Authentication successful. You can close this window and return to the terminal.")
		cs.codeCh <- code
	})

	cs.server = &http.Server{Handler: mux}
	go func() {
		if err := cs.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			cs.errCh <- err
		}
	}()

	return cs, nil
}

// Port returns the bound port.
func (cs *CallbackServer) Port() int {
	return cs.listener.Addr().(*net.TCPAddr).Port
}

// Wait blocks until a code arrives, an error occurs, or ctx is done.
// The server is closed on return.
func (cs *CallbackServer) Wait(ctx context.Context) (string, error) {
	defer cs.server.Close()

	select {
	case code := <-cs.codeCh:
		return code, nil
	case err := <-cs.errCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
