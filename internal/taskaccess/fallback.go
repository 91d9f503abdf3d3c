package taskaccess

import (
	"context"
	"errors"

	"gavel/internal/api"
	"gavel/internal/config"
)

// Session couples an Access with the resources behind it.
type Session struct {
	Access Access

	// Direct reports that no daemon answered and operations run against the
	// stores themselves.
	Direct bool

	close func() error
}

// Close releases the session's stores. Daemon-backed sessions hold nothing.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open probes the daemon and falls back to direct store access when nothing
// is listening. A daemon that answers but refuses the request (bad token,
// for example) is surfaced as an error, never silently bypassed.
func Open(ctx context.Context, cfg *config.Config, client *api.Client) (Session, error) {
	if client != nil {
		_, err := client.Status(ctx)
		if err == nil {
			return Session{Access: &daemonAccess{client: client}}, nil
		}
		if !api.IsUnavailable(err) {
			return Session{}, err
		}
	}

	if cfg == nil {
		return Session{}, errors.New("config is required for direct store access")
	}
	direct, closeFn, err := newDirectAccess(cfg)
	if err != nil {
		return Session{}, err
	}
	return Session{Access: direct, Direct: true, close: closeFn}, nil
}
