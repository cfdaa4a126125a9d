package email

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// AppendMessage stores raw in folder and returns the UID the server
// assigned. Servers without UIDPLUS report zero.
func (c *Client) AppendMessage(ctx context.Context, folder string, raw []byte, flags ...imap.Flag) (uint32, error) {
	var uid imap.UID
	err := c.session(ctx, "", func(conn *imapclient.Client) error {
		cmd := conn.Append(folder, int64(len(raw)), &imap.AppendOptions{Flags: flags, Time: time.Now()})
		_, werr := cmd.Write(raw)
		cerr := cmd.Close()
		if werr != nil {
			return fmt.Errorf("append to %s: %w", folder, werr)
		}
		if cerr != nil {
			return fmt.Errorf("append to %s: %w", folder, cerr)
		}
		data, err := cmd.Wait()
		if err != nil {
			return fmt.Errorf("append to %s: %w", folder, err)
		}
		uid = data.UID
		return nil
	})
	return uint32(uid), err
}

// DeleteMessage marks a message \Deleted and expunges just that UID.
func (c *Client) DeleteMessage(ctx context.Context, folder string, uid uint32) error {
	return c.session(ctx, folder, func(conn *imapclient.Client) error {
		set := uidSet(imap.UID(uid))
		flags := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}
		if err := conn.Store(set, flags, nil).Close(); err != nil {
			return fmt.Errorf("flag UID %d deleted in %s: %w", uid, folder, err)
		}
		if err := conn.UIDExpunge(set).Close(); err != nil {
			return fmt.Errorf("expunge UID %d in %s: %w", uid, folder, err)
		}
		return nil
	})
}
