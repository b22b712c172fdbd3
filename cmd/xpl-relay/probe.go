package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"xpl-relay-go/internal/config"
	"xpl-relay-go/internal/listing"
	"xpl-relay-go/internal/session"
)

type probeCmd struct {
	Email       string `kong:"required,help='Account email.',env='XPL_EMAIL'"`
	Password    string `kong:"required,help='Account password.',env='XPL_PASSWORD'"`
	Size        int    `kong:"help='Page size (0 uses session.page_size).',default='0'"`
	Pages       int    `kong:"help='Maximum number of pages to fetch.',default='1'"`
	Sort        string `kong:"help='Sort key: default|creationDate|expiryDate|price.',default='default'"`
	Refresh     bool   `kong:"help='Refresh the access token after listing.'"`
	KeepSession bool   `kong:"name='keep-session',help='Skip sign-out at the end.'"`
}

func (p *probeCmd) Run(cli *config.CLI) error {
	cfg, err := config.Load(cli)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	sortKey, err := listing.ParseSortKey(p.Sort)
	if err != nil {
		return err
	}

	sess, err := session.New()
	if err != nil {
		return err
	}
	ctrl := session.NewController(cfg, sess, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	user, err := ctrl.Login(ctx, p.Email, p.Password)
	if err != nil {
		return err
	}
	if !p.KeepSession {
		defer func() {
			if err := ctrl.SignOut(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("sign-out failed", "err", err)
			}
		}()
	}

	if user.AccountType == session.RoleProvider {
		if _, err := ctrl.FetchCategories(ctx); err != nil {
			return err
		}
	}

	for page := 0; page < p.Pages; page++ {
		pg, err := ctrl.FetchProjects(ctx, page, p.Size)
		if err != nil {
			return err
		}
		if !pg.HasMore {
			break
		}
	}

	if p.Refresh {
		if _, err := ctrl.Refresh(ctx); err != nil {
			return err
		}
	}

	return printReport(os.Stdout, sess, sortKey, time.Now())
}

// printReport writes the token state and the recent/history split.
func printReport(w io.Writer, sess *session.Session, by listing.SortKey, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	if u := sess.User(); u != nil {
		fmt.Fprintf(tw, "user\t%s %s (%s)\n", u.FirstName, u.LastName, u.Username)
		fmt.Fprintf(tw, "account\t%s\n", u.AccountType)
	}
	exp, known := sess.TokenExpiry()
	fmt.Fprintf(tw, "token\t%s\n", listing.Snippet(sess.Token()))
	fmt.Fprintf(tw, "expires in\t%s\n", listing.FormatRemaining(exp, known, now))
	for i, rec := range sess.History() {
		fmt.Fprintf(tw, "history[%d]\t%s\t%s\n", i, listing.Snippet(rec.Token), listing.FormatRemaining(rec.ExpiresAt, rec.ExpiryKnown, now))
	}

	_, total, hasMore := sess.ListingState()
	projects := sess.Projects()
	fmt.Fprintf(tw, "projects\t%d of %d (more: %t)\n", len(projects), total, hasMore)

	recent, history := listing.Split(projects, now, sess.Role() == session.RoleProvider)
	listing.Sort(recent, by)
	listing.Sort(history, by)
	printProjects(tw, "recent", recent)
	printProjects(tw, "history", history)

	return tw.Flush()
}

func printProjects(w io.Writer, title string, projects []listing.Project) {
	fmt.Fprintf(w, "\n%s (%d)\n", title, len(projects))
	for _, p := range projects {
		hot := ""
		if p.Hot() {
			hot = "hot"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\n",
			p.ID(), p.Name(), hot, listing.FormatDate(p.ExpiryDate()), p.Price())
	}
}
