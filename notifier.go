package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/kova98/feedgrep.ingest/notifiers"
)

// Notifier mails an alert when a worker stops for good. A nil mailer disables it.
type Notifier struct {
	mailer     *notifiers.Mailer
	to         string
	subreddits []string
	host       string
}

func NewNotifier(mailer *notifiers.Mailer, to string, subreddits []string) *Notifier {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Notifier{
		mailer:     mailer,
		to:         to,
		subreddits: subreddits,
		host:       host,
	}
}

func (n *Notifier) WorkerFailed(task string, cause error) {
	if n.mailer == nil {
		return
	}
	if err := n.notifyWorkerFailure(task, cause); err != nil {
		slog.Error("notify worker failure:", "task", task, "error", err)
	}
}

func (n *Notifier) notifyWorkerFailure(task string, cause error) error {
	mail, err := n.mailer.WorkerFailureEmail(n.to, notifiers.WorkerFailure{
		Task:       task,
		Subreddits: n.subreddits,
		Err:        cause,
		Host:       n.host,
		Time:       time.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "create email")
	}
	if err = n.mailer.Send(mail); err != nil {
		return errors.Wrap(err, "send alert")
	}
	return nil
}
