package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		baseURL  string
		timeout  time.Duration
		interval time.Duration
		repeat   bool
	)
	cmd := &cobra.Command{
		Use:          "smoke",
		Short:        "Run an end-to-end sharing scenario against a running API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				err := run(ctx, newClient(baseURL))
				cancel()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "smoke test passed")
				if !repeat {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", envOr("LOCSHARE_BASE_URL", "http://localhost:8080"), "API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout per scenario run")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "pause between runs with --repeat")
	cmd.Flags().BoolVar(&repeat, "repeat", false, "keep running the scenario")
	return cmd
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

func (c *client) call(ctx context.Context, method, path, token string, body, out any, want int) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type user struct {
	id, email, token string
}

func (c *client) signup(ctx context.Context, name string) (user, error) {
	u := user{email: fmt.Sprintf("%s-%s@smoke.locshare", name, uuid.NewString()[:8])}
	creds := map[string]string{"name": name, "email": u.email, "password": "smoke-" + name}
	var acct struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/accounts", "", creds, &acct, http.StatusCreated); err != nil {
		return u, err
	}
	var tok struct {
		Token string `json:"token"`
	}
	delete(creds, "name")
	if err := c.call(ctx, http.MethodPost, "/v1/auth/login", "", creds, &tok, http.StatusOK); err != nil {
		return u, err
	}
	u.id, u.token = acct.ID, tok.Token
	return u, nil
}

func (c *client) record(ctx context.Context, u user, lat, lon float64) error {
	return c.call(ctx, http.MethodPost, "/v1/locations", u.token, map[string]any{
		"latitude":    lat,
		"longitude":   lon,
		"captured_at": time.Now().UnixMilli(),
	}, nil, http.StatusCreated)
}

func run(ctx context.Context, c *client) error {
	if err := c.call(ctx, http.MethodGet, "/readyz", "", nil, nil, http.StatusOK); err != nil {
		return err
	}
	owner, err := c.signup(ctx, "owner")
	if err != nil {
		return err
	}
	viewer, err := c.signup(ctx, "viewer")
	if err != nil {
		return err
	}

	// Before sharing the viewer must be refused.
	if err := c.call(ctx, http.MethodGet, "/v1/locations/"+owner.id+"/current", viewer.token, nil, nil, http.StatusForbidden); err != nil {
		return err
	}
	if err := c.call(ctx, http.MethodPost, "/v1/shares", owner.token, map[string]string{"email": viewer.email}, nil, http.StatusCreated); err != nil {
		return err
	}

	events, err := c.openStream(ctx, viewer)
	if err != nil {
		return err
	}
	if err := c.record(ctx, owner, 43.2389, 76.8897); err != nil {
		return err
	}
	if err := waitForUpsert(ctx, events, owner.id); err != nil {
		return err
	}

	var cur struct {
		UserID string `json:"user_id"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/locations/"+owner.id+"/current", viewer.token, nil, &cur, http.StatusOK); err != nil {
		return err
	}
	if cur.UserID != owner.id {
		return fmt.Errorf("current location belongs to %q, want %q", cur.UserID, owner.id)
	}

	if err := c.call(ctx, http.MethodDelete, "/v1/shares/"+viewer.id, owner.token, nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	return c.call(ctx, http.MethodGet, "/v1/locations/"+owner.id+"/current", viewer.token, nil, nil, http.StatusForbidden)
}

// openStream connects to the visible-locations stream and yields the data
// payload of every upsert event. The channel closes with the stream.
func (c *client) openStream(ctx context.Context, u user) (<-chan string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/visible/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	// Wait for the preamble so the subscription is live before returning.
	if !sc.Scan() {
		resp.Body.Close()
		return nil, errors.New("stream closed before preamble")
	}
	out := make(chan string, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		event := ""
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "upsert":
				select {
				case out <- strings.TrimPrefix(line, "data: "):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func waitForUpsert(ctx context.Context, events <-chan string, userID string) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for upsert of %s: %w", userID, ctx.Err())
		case data, ok := <-events:
			if !ok {
				return errors.New("stream closed before upsert")
			}
			var up struct {
				UserID string `json:"user_id"`
			}
			if err := json.Unmarshal([]byte(data), &up); err != nil {
				return fmt.Errorf("decode upsert: %w", err)
			}
			if up.UserID == userID {
				return nil
			}
		}
	}
}
