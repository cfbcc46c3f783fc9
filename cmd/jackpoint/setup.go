package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/artpi/jackpoint/internal/config"
	"github.com/artpi/jackpoint/internal/logging"
	"github.com/artpi/jackpoint/internal/matrix"
	"github.com/artpi/jackpoint/internal/store"
)

type prompter struct {
	in  *bufio.Reader
	fd  int
	tty bool
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}
	return p
}

func (p *prompter) ask(label, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, current)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF && current != "" {
			return current, nil
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current, nil
	}
	return line, nil
}

func (p *prompter) secret(label string) (string, error) {
	if !p.tty {
		return p.ask(label, "")
	}
	fmt.Fprintf(p.out, "%s: ", label)
	data, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func newSetupCmd(a *app) *cobra.Command {
	var creds config.Credentials

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure the Matrix bot account and the recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.settings()
			if err != nil {
				return err
			}
			dir := cfg.Storage.StateDir

			if existing, err := config.LoadCredentials(dir); err == nil {
				if creds.Homeserver == "" {
					creds.Homeserver = existing.Homeserver
				}
				if creds.UserID == "" {
					creds.UserID = existing.UserID
				}
				if creds.Recipient == "" {
					creds.Recipient = existing.Recipient
				}
			}

			out := cmd.OutOrStdout()
			p := newPrompter(cmd.InOrStdin(), out)
			if creds.Homeserver, err = p.ask("Homeserver URL", creds.Homeserver); err != nil {
				return err
			}
			if creds.UserID, err = p.ask("Bot user ID (e.g. @bot:example.org)", creds.UserID); err != nil {
				return err
			}
			if creds.Password == "" {
				creds.Password = a.v.GetString("password")
			}
			if creds.Password == "" {
				if creds.Password, err = p.secret("Bot password"); err != nil {
					return err
				}
			}
			if creds.Recipient, err = p.ask("Your user ID (receives notifications)", creds.Recipient); err != nil {
				return err
			}
			if err := creds.Validate(); err != nil {
				return err
			}

			log := logging.Console(cfg.Debug)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			// a fresh login also refreshes the cached token
			st := store.New(dir)
			if _, err := st.Update(func(rec *store.Record) { rec.AccessToken = "" }); err != nil {
				return err
			}
			client, err := matrix.Authenticate(ctx, &creds, st, log)
			if err != nil {
				return err
			}
			if err := config.SaveCredentials(dir, &creds); err != nil {
				return err
			}

			fmt.Fprintf(out, "Logged in as %s. Notifications go to %s.\n", client.UserID(), creds.Recipient)
			fmt.Fprintln(out, "Start a session with: jackpoint run claude")
			return nil
		},
	}

	cmd.Flags().StringVar(&creds.Homeserver, "homeserver", "", "homeserver URL")
	cmd.Flags().StringVar(&creds.UserID, "user", "", "bot user ID")
	cmd.Flags().StringVar(&creds.Recipient, "recipient", "", "user ID that receives notifications")
	return cmd
}
