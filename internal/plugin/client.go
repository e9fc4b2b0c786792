// Package plugin connects out-of-process providers speaking the
// length-prefixed JSON protocol and exposes them as agent.Providers.
package plugin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/commandcenter/internal/agent"
	pkg "github.com/opentalon/commandcenter/pkg/plugin"
)

// Client is one connection to a provider. Calls are serialized over the
// connection; a call interrupted by its context breaks the connection and
// the next call redials.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	network string
	address string
	timeout time.Duration

	name    string
	desc    string
	catalog agent.Catalog
}

// Dial connects to a provider and fetches its capabilities.
func Dial(ctx context.Context, network, address string, timeout time.Duration) (*Client, error) {
	c := &Client{network: network, address: address, timeout: timeout}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	var resp pkg.Response
	if err := c.roundTrip(ctx, &pkg.Request{Method: pkg.MethodCapabilities}, &resp); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("request capabilities: %w", err)
	}
	if resp.Error != "" {
		_ = c.Close()
		return nil, fmt.Errorf("capabilities error: %s", resp.Error)
	}
	if resp.Caps == nil {
		_ = c.Close()
		return nil, fmt.Errorf("provider returned empty capabilities")
	}
	c.name = resp.Caps.Name
	c.desc = resp.Caps.Description
	c.catalog = toCatalog(resp.Caps)
	return c, nil
}

// DialFromHandshake connects using information from a handshake.
func DialFromHandshake(ctx context.Context, hs pkg.Handshake, timeout time.Duration) (*Client, error) {
	return Dial(ctx, hs.Network, hs.Address, timeout)
}

func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return fmt.Errorf("dial provider at %s://%s: %w", c.network, c.address, err)
	}
	c.conn = conn
	return nil
}

// roundTrip must be called with c.mu held or before c is shared.
func (c *Client) roundTrip(ctx context.Context, req *pkg.Request, resp *pkg.Response) error {
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}
	conn := c.conn
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	err := pkg.WriteMessage(conn, req)
	if err == nil {
		err = pkg.ReadMessage(conn, resp)
	}
	if err != nil {
		_ = conn.Close()
		c.conn = nil
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *Client) Name() string            { return c.name }
func (c *Client) Description() string     { return c.desc }
func (c *Client) Describe() agent.Catalog { return c.catalog }

// Execute sends one call. A provider-reported error is returned as a
// *agent.StructuredError.
func (c *Client) Execute(ctx context.Context, action string, args []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := pkg.Request{Method: pkg.MethodExecute, ID: uuid.NewString(), Action: action, Args: args}
	var resp pkg.Response
	if err := c.roundTrip(ctx, &req, &resp); err != nil {
		return "", fmt.Errorf("provider %s: %w", c.name, err)
	}
	if resp.CallID != "" && resp.CallID != req.ID {
		_ = c.conn.Close()
		c.conn = nil
		return "", fmt.Errorf("provider %s: response for call %s, want %s", c.name, resp.CallID, req.ID)
	}
	if resp.Error != "" {
		return "", agent.Errorf("%s", resp.Error)
	}
	return resp.Content, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func toCatalog(msg *pkg.CapabilitiesMsg) agent.Catalog {
	descs := make([]agent.CapabilityDescriptor, len(msg.Actions))
	for i, a := range msg.Actions {
		descs[i] = agent.CapabilityDescriptor{
			Name:        a.Name,
			Description: a.Description,
			Usage:       a.Usage,
			Examples:    a.Examples,
		}
	}
	return agent.NewCatalog(descs...)
}
