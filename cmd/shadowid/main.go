package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/identity"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

var version = "dev"

type cli struct {
	dir     string
	server  string
	verbose bool
	out     string

	mgr *identity.Manager
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	logger.Init(logger.Config{Env: "development", Level: level, ServiceName: "shadowid", Version: version})

	store, err := identity.NewFileStorage(c.dir)
	if err != nil {
		return fmt.Errorf("open identity dir: %w", err)
	}
	engine := identity.NewEngine(
		identity.WithSignalSource(identity.HostSignals{Version: version}),
		identity.WithLogger(logger.Named("engine")),
	)
	opts := []identity.ManagerOption{identity.WithManagerLogger(logger.Named("identity"))}
	if c.server != "" {
		opts = append(opts, identity.WithPurger(identity.NewHTTPPurger(c.server)))
	}
	c.mgr = identity.NewManager(store, engine, opts...)
	return nil
}

func (c *cli) print(v interface{}) {
	if c.out == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	switch t := v.(type) {
	case identity.Stats:
		fmt.Printf("state:       %s\n", t.State)
		fmt.Printf("token:       %s\n", t.TokenPreview)
		fmt.Printf("method:      %s\n", t.Method)
		if t.CreatedAt != nil {
			fmt.Printf("created:     %s\n", t.CreatedAt.Format(time.RFC3339))
		}
		if t.LastError != "" {
			fmt.Printf("last error:  %s\n", t.LastError)
		}
	default:
		fmt.Println(v)
	}
}

// post sends a JSON body to the server and fails on non-2xx answers.
func (c *cli) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.server, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out != nil {
		return json.Unmarshal(b, out)
	}
	return nil
}

func defaultDir() string {
	if d := os.Getenv("SHADOWID_DIR"); d != "" {
		return d
	}
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "shadowid")
	}
	return ".shadowid"
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	c := &cli{}

	root := &cobra.Command{
		Use:               "shadowid",
		Short:             "Manage the pseudonymous identity of this machine",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.dir, "dir", defaultDir(), "identity storage directory (env SHADOWID_DIR)")
	root.PersistentFlags().StringVar(&c.server, "server", envOr("SHADOWID_SERVER", "http://localhost:8080"), "backend base URL, empty for offline use (env SHADOWID_SERVER)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&c.out, "out", "text", "output format: text|json")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the identity token, or load the stored one",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := c.mgr.Initialize(cmd.Context())
			if err != nil && tok == "" {
				return err
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "warning:", err)
			}
			c.print(c.mgr.Stats())
			return nil
		},
	}

	var reveal bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored identity without deriving a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.mgr.Refresh(cmd.Context()); err != nil {
				return err
			}
			if reveal && c.mgr.IsReady() {
				fmt.Println(c.mgr.CurrentToken())
				return nil
			}
			c.print(c.mgr.Stats())
			return nil
		},
	}
	showCmd.Flags().BoolVar(&reveal, "reveal", false, "print the full token")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Register the identity with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.server == "" {
				return errors.New("verify needs --server")
			}
			tok, err := c.mgr.Initialize(cmd.Context())
			if tok == "" {
				return err
			}
			body := map[string]interface{}{"guestId": tok}
			if meta, ok := c.mgr.DeviceMeta(); ok {
				body["deviceMeta"] = meta
			}
			var resp struct {
				IsNew   bool   `json:"isNew"`
				Message string `json:"message"`
			}
			if err := c.post(cmd.Context(), "/api/guest/verify", body, &resp); err != nil {
				return err
			}
			c.print(resp.Message)
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Throw away the current identity and derive a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.mgr.Refresh(cmd.Context()); err != nil {
				return err
			}
			old := c.mgr.CurrentToken()
			tok, err := c.mgr.Reset(cmd.Context())
			if tok == "" {
				return err
			}
			if old != "" && c.server != "" {
				if err := c.post(cmd.Context(), "/api/guest/reset", map[string]string{"oldGuestId": old}, nil); err != nil {
					fmt.Fprintln(os.Stderr, "warning: server reset failed:", err)
				}
			}
			c.print(c.mgr.Stats())
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete server data for the identity, then the local copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.server == "" {
				return errors.New("delete needs --server, the server copy is purged before the local one")
			}
			if err := c.mgr.DeleteData(cmd.Context()); err != nil {
				if errors.Is(err, identity.ErrPurgeInconsistency) {
					return fmt.Errorf("server purge failed, local identity kept so you can retry: %w", err)
				}
				return err
			}
			fmt.Println("identity deleted")
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow identity changes made by other processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := c.mgr.Refresh(ctx); err != nil {
				return err
			}
			last := c.mgr.CurrentToken()
			fmt.Println("watching", c.dir, "current", utils.TokenPreview(last))

			done := make(chan error, 1)
			go func() { done <- c.mgr.Watch(ctx) }()
			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case err := <-done:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				case <-ticker.C:
					if tok := c.mgr.CurrentToken(); tok != last {
						last = tok
						fmt.Println("identity changed:", utils.TokenPreview(tok))
					}
				}
			}
		},
	}

	root.AddCommand(initCmd, showCmd, verifyCmd, resetCmd, deleteCmd, watchCmd)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
