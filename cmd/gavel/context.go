package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"gavel/internal/api"
	"gavel/internal/config"
	"gavel/internal/taskaccess"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// apiBind resolves the daemon address: the --api flag wins, then the
// configured bind address.
func (c *commandContext) apiBind() string {
	if c.apiFlag != nil {
		if bind := strings.TrimSpace(*c.apiFlag); bind != "" {
			return bind
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return strings.TrimSpace(cfg.Paths.APIBind)
	}
	return ""
}

func (c *commandContext) client() *api.Client {
	bind := c.apiBind()
	if bind == "" {
		return nil
	}
	var token string
	if cfg := c.configValue(); cfg != nil {
		token = cfg.Paths.APIToken
	}
	return api.NewClient(bind, token)
}

// withAccess opens a daemon session, or a direct store session when no daemon
// answers, and releases it when fn returns.
func (c *commandContext) withAccess(cmd *cobra.Command, fn func(ctx context.Context, access taskaccess.Access) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	session, err := taskaccess.Open(cmd.Context(), cfg, c.client())
	if err != nil {
		return err
	}
	defer session.Close()
	if session.Direct {
		fmt.Fprintln(cmd.ErrOrStderr(), "Daemon not reachable; operating on the state store directly.")
	}
	return fn(cmd.Context(), session.Access)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
