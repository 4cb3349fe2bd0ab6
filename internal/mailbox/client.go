package mailbox

import (
	"errors"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/Skynetiks/skydesk/internal/config"
)

// imapClient is the subset of imapclient.Client the driver uses.
type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// ClientFactory opens a new IMAP connection.
type ClientFactory func(cfg config.IMAPConfig) (imapClient, error)

// DialIMAP connects to the configured server, over TLS unless disabled.
func DialIMAP(cfg config.IMAPConfig) (imapClient, error) {
	if cfg.Host == "" {
		return nil, errors.New("imap host not configured")
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: cfg.DialTimeout}}
	var (
		client *imapclient.Client
		err    error
	)
	if cfg.TLS {
		client, err = imapclient.DialTLS(cfg.Addr(), opts)
	} else {
		client, err = imapclient.DialInsecure(cfg.Addr(), opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
