package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/entnt/dental-connect/internal/config"
	"github.com/entnt/dental-connect/internal/domain/clinic"
	"github.com/entnt/dental-connect/internal/domain/notify"
	"github.com/entnt/dental-connect/internal/domain/session"
	"github.com/entnt/dental-connect/internal/platform/kv"
)

// workspace is the single-user view the local commands operate on: one file
// blob holding the clinic data, the signed-in identity and the acknowledged
// notifications.
type workspace struct {
	blob     kv.Blob
	store    *clinic.Store
	provider *session.Provider
	engine   *notify.Engine
}

func openWorkspace(ctx context.Context, path string, scope notify.AckScope, logger zerolog.Logger) (*workspace, error) {
	blob, err := kv.OpenFile(path, logger)
	if err != nil {
		return nil, err
	}
	store, err := clinic.OpenStore(ctx, blob, logger)
	if err != nil {
		return nil, err
	}
	verifier, err := session.NewStaticVerifier(session.DemoAccounts(), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	return &workspace{
		blob:     blob,
		store:    store,
		provider: session.NewProvider(ctx, blob, verifier, logger),
		engine:   notify.NewEngine(notify.NewAckStore(blob, scope, logger)),
	}, nil
}

type localOptions struct {
	storePath string
	ackScope  string
}

// withWorkspace resolves the store path from flags or configuration and
// runs fn against the opened workspace.
func (o *localOptions) withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, w *workspace, out io.Writer) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path := cfg.StorePath
	if o.storePath != "" {
		path = o.storePath
	}
	scope := notify.AckScope(cfg.NotifyAckScope)
	if o.ackScope != "" {
		scope = notify.AckScope(o.ackScope)
	}
	if !scope.Valid() {
		return fmt.Errorf("unknown acknowledgement scope %q", scope)
	}

	logger := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := openWorkspace(ctx, path, scope, logger)
	if err != nil {
		return err
	}
	return fn(ctx, w, cmd.OutOrStdout())
}

var errInvalidCredentials = errors.New("invalid credentials")

func localCmds() []*cobra.Command {
	opts := &localOptions{}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the demo data, or reset it with --reset",
		Args:  cobra.NoArgs,
	}
	reset := seed.Flags().Bool("reset", false, "discard existing clinic data first")
	seed.RunE = func(cmd *cobra.Command, args []string) error {
		if *reset {
			blob, err := kv.OpenFile(opts.resolvedPath(), zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel))
			if err != nil {
				return err
			}
			if err := blob.Delete(cmd.Context(), kv.KeyAppData); err != nil {
				return err
			}
		}
		return opts.withWorkspace(cmd, func(ctx context.Context, w *workspace, out io.Writer) error {
			snap := w.store.Snapshot()
			fmt.Fprintf(out, "%d patients, %d incidents\n", len(snap.Patients), len(snap.Incidents))
			return nil
		})
	}

	login := &cobra.Command{
		Use:   "login <email> <password>",
		Short: "Sign in locally",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, w *workspace, out io.Writer) error {
				ok, err := w.provider.Login(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return errInvalidCredentials
				}
				fmt.Fprintf(out, "logged in as %s\n", describe(w.provider.Current()))
				return nil
			})
		},
	}

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Sign out locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, w *workspace, out io.Writer) error {
				if err := w.provider.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "logged out")
				return nil
			})
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, w *workspace, out io.Writer) error {
				fmt.Fprintln(out, describe(w.provider.Current()))
				return nil
			})
		},
	}

	notifications := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications of the signed-in identity",
		Args:  cobra.NoArgs,
	}
	markSeen := notifications.Flags().Bool("seen", false, "acknowledge the listed notifications")
	notifications.RunE = func(cmd *cobra.Command, args []string) error {
		return opts.withWorkspace(cmd, func(ctx context.Context, w *workspace, out io.Writer) error {
			id := w.provider.Current()
			if id == nil {
				return errors.New("not logged in")
			}
			incs := w.store.Incidents()
			if *markSeen {
				if err := w.engine.MarkSeen(ctx, id, notify.Compute(id, incs)); err != nil {
					return err
				}
			}
			entries, err := w.engine.List(ctx, id, incs)
			if err != nil {
				return err
			}
			unread := 0
			for _, e := range entries {
				mark := " "
				if !e.Read {
					mark = "*"
					unread++
				}
				fmt.Fprintf(out, "%s %-6s %s\n", mark, e.ID, e.Message)
			}
			fmt.Fprintf(out, "%d unread\n", unread)
			return nil
		})
	}

	cmds := []*cobra.Command{seed, login, logout, whoami, notifications}
	for _, c := range cmds {
		c.Flags().StringVar(&opts.storePath, "store", "", "path of the local data file (default STORE_PATH)")
		c.Flags().StringVar(&opts.ackScope, "ack-scope", "", "global or identity (default NOTIFY_ACK_SCOPE)")
	}
	return cmds
}

func (o *localOptions) resolvedPath() string {
	if o.storePath != "" {
		return o.storePath
	}
	cfg, err := config.Load()
	if err != nil || cfg.StorePath == "" {
		return "dental-data.json"
	}
	return cfg.StorePath
}

func describe(id session.Identity) string {
	switch who := id.(type) {
	case session.Admin:
		return who.Address + " (admin)"
	case session.Patient:
		return who.Address + " (patient " + who.PatientID + ")"
	}
	return "not logged in"
}
