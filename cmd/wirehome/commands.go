package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/wirehome/internal/access"
	"github.com/nerrad567/wirehome/internal/api"
	"github.com/nerrad567/wirehome/internal/infrastructure/config"
)

var errUsage = errors.New("usage: wirehome credential add|list|remove|enable|disable [flags]")

// runCredential manages disarm credentials in the database.
//
//	wirehome credential add -kind pin -label "hall keypad" -secret 4711
//	wirehome credential list
//	wirehome credential remove -id <id>
//	wirehome credential disable -id <id>
func runCredential(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	action := args[0]
	switch action {
	case "add", "list", "remove", "enable", "disable":
	default:
		return errUsage
	}

	fs := flag.NewFlagSet("credential "+action, flag.ContinueOnError)
	fs.SetOutput(out)
	configFlag := fs.String("config", "", "config file")
	kind := fs.String("kind", string(access.KindPIN), "credential kind: pin or rfid")
	label := fs.String("label", "", "holder description")
	secret := fs.String("secret", "", "PIN or tag ID")
	id := fs.String("id", "", "credential ID")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Database.Enabled {
		return errors.New("database is disabled in config; credentials need database.enabled: true")
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly; nothing to recover
	store := access.NewStore(db.DB)

	switch action {
	case "add":
		c, err := store.Add(ctx, access.Kind(*kind), *label, *secret)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "added %s credential %s (%s)\n", c.Kind, c.ID, c.Label)
		return nil
	case "list":
		creds, err := store.List(ctx)
		if err != nil {
			return err
		}
		return printCredentials(out, creds)
	case "remove":
		if *id == "" {
			return errors.New("-id is required")
		}
		return store.Remove(ctx, *id)
	case "enable", "disable":
		if *id == "" {
			return errors.New("-id is required")
		}
		return store.SetEnabled(ctx, *id, action == "enable")
	default:
		return errUsage
	}
}

func printCredentials(out io.Writer, creds []access.Credential) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0) //nolint:mnd // column layout
	fmt.Fprintln(tw, "ID\tKIND\tLABEL\tENABLED\tLAST USED")
	for _, c := range creds {
		last := "never"
		if c.LastUsedAt != nil {
			last = c.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", c.ID, c.Kind, c.Label, c.Enabled, last)
	}
	return tw.Flush()
}

// runToken mints a bearer token for the command endpoints.
//
//	wirehome token -subject dashboard -ttl 8760h
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	configFlag := fs.String("config", "", "config file")
	subject := fs.String("subject", "", "token subject, recorded as the command source")
	ttl := fs.Duration("ttl", api.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.JWTSecret == "" {
		return errors.New("api.jwt_secret is not set; command endpoints accept requests without a token")
	}

	token, err := api.IssueToken(cfg.API.JWTSecret, *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
