package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/instrument-station/internal/blueprint"
	"github.com/nerrad567/instrument-station/internal/infrastructure/config"
	"github.com/nerrad567/instrument-station/internal/infrastructure/mqtt"
	"github.com/nerrad567/instrument-station/internal/protocol"
	"github.com/nerrad567/instrument-station/internal/transport"
)

// Requester sends one instruction and waits for its reply.
// *transport.Conn implements it.
type Requester interface {
	Do(ctx context.Context, in protocol.Instruction) (protocol.Response, error)
}

// Options configures a Client.
type Options struct {
	// RaiseErrors returns remote failures to the caller. When false they
	// are logged and the zero value is returned instead.
	RaiseErrors bool

	// SubscribePrefixes limits Subscriber to objects under these dotted
	// names. Empty means every object.
	SubscribePrefixes []string

	// PollInterval bounds how long Subscriber.Stop waits for the loop.
	PollInterval time.Duration

	Logger Logger
}

// Client issues instructions to one station.
//
// Thread Safety: All methods are safe for concurrent use. Proxies returned
// by a Client share its cache but are not themselves meant to be shared
// between goroutines without external synchronisation.
type Client struct {
	conn   Requester
	opts   Options
	logger Logger
	cache  *BlueprintCache
}

// New creates a client that sends instructions through conn.
func New(conn Requester, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{conn: conn, opts: opts, logger: logger}
	c.cache = NewBlueprintCache(c.fetchBlueprint)
	return c
}

// Connect dials the station named by cfg and returns a client for it.
//
// Parameters:
//   - ctx: Bounds the initial handshake
//   - cfg: Station URL, bearer token, timeout and error policy
//   - logger: Receives remote errors in raise-never mode (may be nil)
//
// Returns:
//   - *Client: Connected client; Close releases the connection
//   - error: transport.ErrUnauthorized or a wrapped transport.ErrConnectionBroken
func Connect(ctx context.Context, cfg config.ClientConfig, logger Logger) (*Client, error) {
	conn, err := transport.Dial(ctx, cfg.URL, transport.DialOptions{
		Token:   cfg.Token,
		Timeout: cfg.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to station: %w", err)
	}
	return New(conn, Options{
		RaiseErrors:       cfg.RaiseErrors,
		SubscribePrefixes: cfg.SubscribePrefixes,
		PollInterval:      cfg.PollInterval(),
		Logger:            logger,
	}), nil
}

// Close releases the underlying connection if it can be closed.
func (c *Client) Close() error {
	if closer, ok := c.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Cache returns the blueprint cache shared by this client's proxies.
func (c *Client) Cache() *BlueprintCache {
	return c.cache
}

// ListInstruments returns the live instruments as name → class.
func (c *Client) ListInstruments(ctx context.Context) (map[string]string, error) {
	in := protocol.NewEnumerate()
	var out map[string]string
	if err := c.settle(in, c.exchange(ctx, in, &out)); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

// CreateInstrument asks the station to construct classID as name and
// returns a proxy for it. Creating an existing name with the same class
// returns a proxy for the running instance.
func (c *Client) CreateInstrument(ctx context.Context, classID, name string, args []any, kwargs map[string]any) (*ModuleProxy, error) {
	in := protocol.NewCreate(classID, name, args, kwargs)
	var raw json.RawMessage
	if err := c.exchange(ctx, in, &raw); err != nil {
		return nil, c.settle(in, err)
	}
	bp, err := decodeModule(name, raw)
	if err != nil {
		return nil, err
	}
	c.cache.Invalidate(name)
	c.cache.Put(bp)
	return newModuleProxy(c, bp), nil
}

// FindOrCreateInstrument returns a proxy for name, creating it first when
// the station has no instrument by that name.
func (c *Client) FindOrCreateInstrument(ctx context.Context, name, classID string, args []any, kwargs map[string]any) (*ModuleProxy, error) {
	in := protocol.NewEnumerate()
	var live map[string]string
	if err := c.exchange(ctx, in, &live); err != nil {
		return nil, c.settle(in, err)
	}
	if existing, ok := live[name]; ok {
		if existing != classID {
			return nil, c.settle(in, protocol.DuplicateName(name))
		}
		return c.Proxy(ctx, name)
	}
	return c.CreateInstrument(ctx, classID, name, args, kwargs)
}

// CloseInstrument closes and unregisters name on the station.
func (c *Client) CloseInstrument(ctx context.Context, name string) error {
	in := protocol.NewClose(name)
	err := c.exchange(ctx, in, nil)
	if err == nil {
		c.cache.Invalidate(name)
	}
	return c.settle(in, err)
}

// Call invokes the method or parameter at path.
//
// A parameter is read with no arguments and written with exactly one.
func (c *Client) Call(ctx context.Context, path string, args []any, kwargs map[string]any) (any, error) {
	in := protocol.NewCall(path, args, kwargs)
	var out any
	if err := c.settle(in, c.exchange(ctx, in, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBlueprint fetches the blueprint at path, bypassing the cache.
func (c *Client) GetBlueprint(ctx context.Context, path string) (blueprint.Blueprint, error) {
	in := protocol.NewGetBlueprint(path)
	bp, err := c.fetchBlueprint(ctx, path)
	return bp, c.settle(in, err)
}

// GetParamDict reads every parameter under path, or under every instrument
// when path is empty.
//
// With no attrs (or only "value") the result maps parameter path → value.
// Otherwise each entry maps attribute → value. On a partial failure the
// readable subset is returned together with the ErrBatch error.
func (c *Client) GetParamDict(ctx context.Context, path string, attrs ...string) (map[string]any, error) {
	in := protocol.NewGetSnapshot(path, attrs...)
	var out map[string]any
	err := c.settle(in, c.exchange(ctx, in, &out))
	if out == nil {
		out = map[string]any{}
	}
	return out, err
}

// SetParameters writes a batch of path → value. The result holds the
// normalised value of each parameter that was set; on a partial failure it
// is returned together with the ErrBatch error.
func (c *Client) SetParameters(ctx context.Context, values map[string]any) (map[string]any, error) {
	in := protocol.NewSetParameters(values)
	var out map[string]any
	err := c.settle(in, c.exchange(ctx, in, &out))
	if out == nil {
		out = map[string]any{}
	}
	return out, err
}

// Proxy returns a proxy for the instrument or submodule at path. The cached
// blueprint for path and its subtree is dropped first, so a new proxy
// always mirrors the station's current shape.
func (c *Client) Proxy(ctx context.Context, path string) (*ModuleProxy, error) {
	c.cache.Invalidate(path)
	bp, err := c.cache.Get(ctx, path)
	if err != nil {
		return nil, c.settle(protocol.NewGetBlueprint(path), err)
	}
	mod, ok := bp.(*blueprint.ModuleBlueprint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotModule, path)
	}
	return newModuleProxy(c, mod), nil
}

// Subscriber returns a subscriber on source filtered by the client's
// prefixes, with the blueprint cache already registered as an observer.
func (c *Client) Subscriber(source Source, topics mqtt.Topics) *Subscriber {
	s := NewSubscriber(source, topics, SubscriberOptions{
		Prefixes:     c.opts.SubscribePrefixes,
		PollInterval: c.opts.PollInterval,
		Logger:       c.logger,
	})
	s.AddObserver(c.cache)
	return s
}

// exchange sends in and decodes the reply message into target (which may be
// nil). It returns transport errors as-is and remote failures as
// *protocol.RemoteError. A batch reply's partial message is decoded even
// when the error is set.
func (c *Client) exchange(ctx context.Context, in protocol.Instruction, target any) error {
	resp, err := c.conn.Do(ctx, in)
	if err != nil {
		return err
	}
	if target != nil {
		if err := resp.Into(target); err != nil {
			return err
		}
	}
	return resp.Err()
}

// settle applies the error policy: in raise-never mode remote failures are
// logged and swallowed. Transport and local errors always pass through.
func (c *Client) settle(in protocol.Instruction, err error) error {
	if err == nil || c.opts.RaiseErrors {
		return err
	}
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) {
		return err
	}
	c.logger.Warn("station returned an error",
		"operation", in.Operation,
		"target", in.Target(),
		"error", remote,
	)
	return nil
}

// fetchBlueprint issues get-blueprint without applying the error policy.
// A raise-never caller sees a nil blueprint on failure.
func (c *Client) fetchBlueprint(ctx context.Context, path string) (blueprint.Blueprint, error) {
	var raw json.RawMessage
	if err := c.exchange(ctx, protocol.NewGetBlueprint(path), &raw); err != nil {
		return nil, err
	}
	bp, err := blueprint.DecodeRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrProtocol, err)
	}
	if bp == nil {
		return nil, fmt.Errorf("%w: empty blueprint for %s", protocol.ErrProtocol, path)
	}
	return bp, nil
}

func decodeModule(path string, raw json.RawMessage) (*blueprint.ModuleBlueprint, error) {
	bp, err := blueprint.DecodeRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrProtocol, err)
	}
	mod, ok := bp.(*blueprint.ModuleBlueprint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotModule, path)
	}
	return mod, nil
}
