package directory

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"vpnsentry/pkg/models"
)

// Config configures the directory service connection.
type Config struct {
	Server       string
	Port         int
	UseSSL       bool
	BaseDN       string
	BindUser     string
	BindPassword string
	Timeout      time.Duration
}

// Client resolves login identifiers against the directory service.
type Client struct {
	cfg Config
}

// NewClient creates a directory client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Server) == "" {
		return nil, fmt.Errorf("directory server is empty")
	}
	if cfg.Port <= 0 {
		if cfg.UseSSL {
			cfg.Port = 636
		} else {
			cfg.Port = 389
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg}, nil
}

// Lookup resolves a login name to its directory attributes. A user that is
// not found yields (nil, nil).
func (c *Client) Lookup(ctx context.Context, username string) (*models.DirectoryInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter := fmt.Sprintf("(&(objectClass=user)(sAMAccountName=%s))", ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		c.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1, int(c.cfg.Timeout.Seconds()), false,
		filter,
		[]string{"mail", "department", "displayName", "title"},
		nil,
	)

	res, err := conn.Search(req)
	if err != nil {
		// Size-limit exceeded still carries the first entry.
		if !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) || res == nil || len(res.Entries) == 0 {
			return nil, fmt.Errorf("directory search for %s: %w", username, err)
		}
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}

	entry := res.Entries[0]
	return &models.DirectoryInfo{
		Email:       entry.GetAttributeValue("mail"),
		Department:  entry.GetAttributeValue("department"),
		DisplayName: entry.GetAttributeValue("displayName"),
		Title:       entry.GetAttributeValue("title"),
	}, nil
}

func (c *Client) dial() (*ldap.Conn, error) {
	scheme := "ldap"
	if c.cfg.UseSSL {
		scheme = "ldaps"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Server, c.cfg.Port)

	conn, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: c.cfg.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("dial directory %s: %w", url, err)
	}
	conn.SetTimeout(c.cfg.Timeout)

	if c.cfg.BindUser != "" {
		if err := conn.Bind(c.cfg.BindUser, c.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, fmt.Errorf("directory bind: %w", err)
		}
	}
	return conn, nil
}
