package imap

import (
	"crypto/tls"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/firefart/dmarcstore/internal/config"
)

func Connect(conf config.IMAPConfig, logger imap.Logger) (*client.Client, error) {
	tlsConfig := tls.Config{} // nolint: gosec
	if conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint:gosec
	}
	if conf.SSL {
		c, err := client.DialTLS(conf.Host, &tlsConfig)
		if err != nil {
			return nil, err
		}
		c.Timeout = conf.Timeout.Duration
		c.ErrorLog = logger
		return c, nil
	}
	c, err := client.Dial(conf.Host)
	if err != nil {
		return nil, err
	}
	c.ErrorLog = logger
	c.Timeout = conf.Timeout.Duration
	support, err := c.SupportStartTLS()
	if err != nil {
		return nil, err
	}
	if support {
		if err := c.StartTLS(&tlsConfig); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func HasImapFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	hasFolder := false
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
		}
	}

	if err := <-done; err != nil {
		return false, err
	}

	return hasFolder, nil
}

// SearchCriteria matches unseen messages whose subject contains subject.
// An empty subject matches every unseen message.
func SearchCriteria(subject string) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag, imap.DeletedFlag}
	if subject != "" {
		criteria.Header.Add("Subject", subject)
	}
	return criteria
}

// Batch returns the first size ids as a sequence set and reports if more
// ids are left.
func Batch(ids []uint32, size int) (*imap.SeqSet, bool) {
	seqset := new(imap.SeqSet)
	if size <= 0 || size >= len(ids) {
		seqset.AddNum(ids...)
		return seqset, false
	}
	seqset.AddNum(ids[:size]...)
	return seqset, true
}

func MarkMessagesAsSeen(c *client.Client, msgUIDs ...uint32) error {
	if len(msgUIDs) == 0 {
		return nil
	}
	seq := new(imap.SeqSet)
	seq.AddNum(msgUIDs...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seq, item, flags, nil); err != nil {
		return err
	}
	return nil
}
