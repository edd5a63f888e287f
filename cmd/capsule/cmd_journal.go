package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/capsule/internal/engine"
	"github.com/scrypster/capsule/pkg/types"
)

var journalUser string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Start an interactive journaling session",
	Long: `Opens the journal in the terminal. New users fill a short quick profile,
give consent and answer the onboarding questions; after that every line
you write is a journal entry.

Commands while journaling:
  /past                   talk to your past self (needs at least one entry)
  /memory                 show what the companion remembers
  /quit                   leave

Commands while talking to your past self:
  /until YYYY-MM-DD [era] limit your past self to what you knew by that day
  /back                   return to journaling
  /quit                   leave`,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVarP(&journalUser, "user", "u", "", "user identifier (blank logs in as guest)")
}

func runJournal(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	r := newJournalREPL(a.machine, a.journal, cmd.InOrStdin(), cmd.OutOrStdout())
	return r.run(cmd.Context(), journalUser)
}

const consentNotice = `This is a private journal that remembers you.

Every entry you write is gently tagged (people you mention, emotions you
feel, beliefs you hold) so that one day your future self can look back
and talk to who you are right now.

  - Your entries are stored in your own diary database.
  - An AI model reads each entry to extract structured memory tags.
  - "Past self" mode lets you talk to a simulation of yourself.
`

// quickProfilePrompts are asked in QuickProfile field order.
var quickProfilePrompts = [4]string{
	"What should I call you?",
	"What do you do?",
	"How would you describe your social circle?",
	"What is your main focus in life right now?",
}

// journalREPL drives one session through every phase on a line-based
// terminal.
type journalREPL struct {
	machine *engine.Machine
	journal *engine.JournalService
	in      *bufio.Scanner
	out     io.Writer
	era     engine.EraOptions
}

func newJournalREPL(machine *engine.Machine, journal *engine.JournalService, in io.Reader, out io.Writer) *journalREPL {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &journalREPL{machine: machine, journal: journal, in: sc, out: out}
}

// errQuit ends the session without an error.
var errQuit = errors.New("quit")

func (r *journalREPL) run(ctx context.Context, userID string) error {
	s, _, err := r.machine.Login(ctx, userID)
	if err != nil {
		return err
	}
	r.printf("Hello, %s.\n", s.UserID)

	for {
		switch s.Phase {
		case types.PhaseQuickProfile:
			err = r.quickProfile(ctx, s)
		case types.PhaseOnboarding:
			err = r.onboarding(ctx, s)
		case types.PhaseJournaling:
			err = r.journaling(ctx, s)
		case types.PhasePastSelf:
			err = r.pastSelf(ctx, s)
		default:
			return fmt.Errorf("unexpected phase %s", s.Phase)
		}
		if errors.Is(err, errQuit) {
			r.printf("See you soon.\n")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *journalREPL) quickProfile(ctx context.Context, s *engine.Session) error {
	r.printf("\nA few quick questions first. Every field is optional; press enter to skip.\n")
	var answers [4]string
	for i, p := range quickProfilePrompts {
		line, ok := r.ask(p + " ")
		if !ok {
			return errQuit
		}
		answers[i] = line
	}
	_, err := r.machine.SubmitQuickProfile(ctx, s, types.QuickProfile{
		Alias:        answers[0],
		Occupation:   answers[1],
		SocialCircle: answers[2],
		LifeFocus:    answers[3],
	})
	return err
}

func (r *journalREPL) onboarding(ctx context.Context, s *engine.Session) error {
	if !s.Consent {
		r.printf("\n%s\n", consentNotice)
		line, ok := r.ask("I understand how my entries will be used and consent to building my past-self profile [y/N]: ")
		if !ok {
			return errQuit
		}
		if !isYes(line) {
			r.printf("Consent is required to continue.\n")
			return errQuit
		}
		if _, err := r.machine.GiveConsent(ctx, s); err != nil {
			return err
		}
	}

	q, ok := r.machine.CurrentQuestion(s)
	if !ok {
		// Step ran past the set; answering completes onboarding.
		_, err := r.machine.AnswerQuestion(ctx, s, types.NoAnswer)
		return err
	}
	total := len(r.machine.Questions())
	line, ok := r.ask(fmt.Sprintf("\n(%d/%d) %s\n> ", s.Step+1, total, q.Prompt))
	if !ok {
		return errQuit
	}
	if line == "/quit" {
		return errQuit
	}
	tr, err := r.machine.AnswerQuestion(ctx, s, line)
	if err != nil {
		return err
	}
	if tr.To == types.PhaseJournaling {
		r.printf("\nThank you. Your journal is ready; write whatever is on your mind.\n")
	}
	return nil
}

func (r *journalREPL) journaling(ctx context.Context, s *engine.Session) error {
	line, ok := r.ask("\n> ")
	if !ok {
		return errQuit
	}

	switch {
	case line == "/quit":
		return errQuit
	case line == "/memory":
		summary, err := r.journal.Summary(ctx, s.UserID)
		if err != nil {
			return err
		}
		r.printf("%s\n", summary)
		return nil
	case line == "/past":
		_, err := r.machine.EnterPastSelf(ctx, s)
		if errors.Is(err, engine.ErrNoEntries) {
			r.printf("Write your first entry before talking to your past self.\n")
			return nil
		}
		if err != nil {
			return err
		}
		r.era = engine.EraOptions{}
		tl, err := r.journal.Timeline(ctx, s.UserID)
		if err == nil {
			r.printf("You are now talking to your past self (%d entries, %s to %s). /back to return.\n",
				tl.Count, tl.First, tl.Last)
		}
		return nil
	case strings.HasPrefix(line, "/"):
		r.printf("Unknown command %s. Try /past, /memory or /quit.\n", line)
		return nil
	}

	res, err := r.journal.SubmitEntry(ctx, s, line)
	if err != nil {
		return err
	}
	if res != nil {
		r.printf("\n%s\n", res.Reply)
	}
	return nil
}

func (r *journalREPL) pastSelf(ctx context.Context, s *engine.Session) error {
	line, ok := r.ask("\npast> ")
	if !ok {
		return errQuit
	}

	switch {
	case line == "/quit":
		return errQuit
	case line == "/back":
		_, err := r.machine.ExitPastSelf(s)
		return err
	case strings.HasPrefix(line, "/until"):
		era, err := parseUntil(strings.TrimSpace(strings.TrimPrefix(line, "/until")))
		if err != nil {
			r.printf("%v\n", err)
			return nil
		}
		r.era = era
		if era.Bounded() {
			r.printf("Your past self now knows nothing after %s.\n", era.Until.Format("2006-01-02"))
		} else {
			r.printf("Your past self remembers everything again.\n")
		}
		return nil
	case strings.HasPrefix(line, "/"):
		r.printf("Unknown command %s. Try /until, /back or /quit.\n", line)
		return nil
	}

	reply, err := r.journal.AskPastSelf(ctx, s, line, r.era)
	if err != nil {
		return err
	}
	if reply != nil {
		r.printf("\n%s\n", reply.Reply)
	}
	return nil
}

// parseUntil reads "YYYY-MM-DD [label]". An empty argument clears the era.
func parseUntil(arg string) (engine.EraOptions, error) {
	if arg == "" {
		return engine.EraOptions{}, nil
	}
	date, label, _ := strings.Cut(arg, " ")
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return engine.EraOptions{}, errors.New("usage: /until YYYY-MM-DD [era label]")
	}
	return engine.EraOptions{
		Until: day.Add(24*time.Hour - time.Nanosecond),
		Label: strings.TrimSpace(label),
	}, nil
}

func isYes(s string) bool {
	switch strings.ToLower(s) {
	case "y", "yes":
		return true
	}
	return false
}

// ask prints prompt and reads one trimmed line. It reports false at end of
// input.
func (r *journalREPL) ask(prompt string) (string, bool) {
	r.printf("%s", prompt)
	if !r.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(r.in.Text()), true
}

func (r *journalREPL) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}
