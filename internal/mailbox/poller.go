package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	goimap "github.com/emersion/go-imap"
	"github.com/google/uuid"

	"github.com/firefart/dmarcstore/internal/config"
	"github.com/firefart/dmarcstore/internal/helper"
	"github.com/firefart/dmarcstore/internal/imap"
	"github.com/firefart/dmarcstore/internal/pipeline"
)

// Processor extracts and ingests a saved report file.
type Processor interface {
	Process(ctx context.Context, src, extractDir string) ([]pipeline.Outcome, error)
}

// Poller fetches report emails from an IMAP folder.
type Poller struct {
	conf       config.IMAPConfig
	batchSize  int
	uploadDir  string
	extractDir string
	processor  Processor
	logger     *log.Logger
}

func New(conf config.IMAPConfig, batchSize int, uploadDir, extractDir string, processor Processor, logger *log.Logger) *Poller {
	return &Poller{
		conf:       conf,
		batchSize:  batchSize,
		uploadDir:  uploadDir,
		extractDir: extractDir,
		processor:  processor,
		logger:     logger,
	}
}

// Run polls the mailbox immediately and then every interval until ctx is done.
// Errors of a single run are logged so the loop keeps running.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	p.logger.Info("starting first run")
	if err := p.Poll(ctx); err != nil {
		p.logger.Error("poll failed", "err", err)
	}
	p.logger.Info("first run finished")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context done")
			return nil
		case <-ticker.C:
			p.logger.Info("starting new run")
			if err := p.Poll(ctx); err != nil {
				p.logger.Error("poll failed", "err", err)
			}
			p.logger.Info("run finished")
		}
	}
}

// Poll processes all matching messages. It runs in batches as some IMAP
// servers have pretty short timeouts and the imap library does not handle
// reconnects.
func (p *Poller) Poll(ctx context.Context) error {
	// messages left unseen after a storage failure are not retried in the same run
	skip := make(map[uint32]struct{})
	hasMore := true
	for hasMore {
		p.logger.Debug("starting new imap loop", "batch_size", p.batchSize)
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		hasMore, err = p.fetch(ctx, skip)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) fetch(ctx context.Context, skip map[uint32]struct{}) (bool, error) {
	c, err := imap.Connect(p.conf, p.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}))
	if err != nil {
		return false, fmt.Errorf("could not connect to %s: %w", p.conf.Host, err)
	}

	p.logger.Debug("connected to imap server")

	// also log IMAP messages in debug mode
	if p.logger.GetLevel() <= log.DebugLevel {
		c.SetDebug(p.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer())
	}

	if err := c.Login(p.conf.User, p.conf.Pass); err != nil {
		return false, fmt.Errorf("could not login: %w", err)
	}

	p.logger.Debug("successful login")

	defer func() {
		if err := c.Logout(); err != nil {
			p.logger.Error("error on logout", "err", err)
		}
	}()

	hasFolder, err := imap.HasImapFolder(c, p.conf.Folder)
	if err != nil {
		return false, fmt.Errorf("could not check if folder %s exists: %w", p.conf.Folder, err)
	}
	if !hasFolder {
		return false, fmt.Errorf("imap folder %s not found in account", p.conf.Folder)
	}

	mbox, err := c.Select(p.conf.Folder, false)
	if err != nil {
		return false, fmt.Errorf("could not select folder %s: %w", p.conf.Folder, err)
	}

	p.logger.Info("opened folder", "folder", mbox.Name, "messages", mbox.Messages, "unseen", mbox.Unseen)

	found, err := c.UidSearch(imap.SearchCriteria(p.conf.Subject))
	if err != nil {
		return false, fmt.Errorf("could not search for mails: %w", err)
	}
	ids := make([]uint32, 0, len(found))
	for _, id := range found {
		if _, ok := skip[id]; !ok {
			ids = append(ids, id)
		}
	}

	p.logger.Debug("found unseen report mails", "count", len(ids))

	if len(ids) == 0 {
		// no mails to process
		return false, nil
	}

	seqset, hasMore := imap.Batch(ids, p.batchSize)
	p.logger.Debug("fetching messages", "uids", seqset.String())

	messages := make(chan *goimap.Message)
	done := make(chan error, 1)

	// peek so the server does not set the seen flag on fetch
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{
		section.FetchItem(),
		goimap.FetchEnvelope,
		goimap.FetchUid,
	}
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var seen []uint32
	msgCounter := 0
	for msg := range messages {
		msgCounter++
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}
		p.logger.Info("processing email", "subject", subject, "uid", msg.Uid)
		body := msg.GetBody(section)
		if body == nil {
			p.logger.Error("server didn't return message body", "uid", msg.Uid)
			skip[msg.Uid] = struct{}{}
			continue
		}
		markSeen, err := p.HandleMessage(ctx, body)
		if err != nil {
			p.logger.Error("could not process message", "uid", msg.Uid, "err", err)
		}
		if markSeen {
			seen = append(seen, msg.Uid)
		} else {
			skip[msg.Uid] = struct{}{}
		}
	}

	p.logger.Debug("waiting for fetch to finish")

	if err := <-done; err != nil {
		return false, fmt.Errorf("error on fetch: %w", err)
	}

	if err := imap.MarkMessagesAsSeen(c, seen...); err != nil {
		return false, fmt.Errorf("could not set seen flag: %w", err)
	}

	p.logger.Info("processed emails", "count", msgCounter, "marked_seen", len(seen))

	return hasMore, nil
}

// HandleMessage stores and ingests every report attached to the email read
// from r. It reports whether the message should be marked as seen, which is
// the case unless a retryable storage failure happened.
func (p *Poller) HandleMessage(ctx context.Context, r io.Reader) (bool, error) {
	attachments, err := ExtractAttachments(ctx, r, p.logger)
	if err != nil {
		// unreadable mails are not retried
		return true, err
	}
	if len(attachments) == 0 {
		p.logger.Info("message does not contain a dmarc report")
		return true, nil
	}

	markSeen := true
	var firstErr error
	for _, a := range attachments {
		retry, err := p.handleAttachment(ctx, a)
		if retry {
			markSeen = false
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return markSeen, firstErr
}

func (p *Poller) handleAttachment(ctx context.Context, a Attachment) (bool, error) {
	id := uuid.NewString()
	dir := filepath.Join(p.uploadDir, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return true, fmt.Errorf("could not create %s: %w", dir, err)
	}
	dst := filepath.Join(dir, a.Filename)
	if err := helper.SaveFile(dst, bytes.NewReader(a.Content)); err != nil {
		return true, err
	}

	outcomes, err := p.processor.Process(ctx, dst, filepath.Join(p.extractDir, id))
	if err != nil && len(outcomes) == 0 {
		return pipeline.Classify(err).Retryable(), err
	}
	for _, o := range outcomes {
		if o.Kind.Retryable() {
			return true, err
		}
	}
	return false, err
}
