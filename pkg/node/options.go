package node

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/juanpablocruz/actionsync/pkg/action"
)

// AuthFunc validates a peer's credentials during handshake.
type AuthFunc func(ctx context.Context, credentials any, remoteNodeID string) (bool, error)

// FilterFunc decides whether an action should cross the wire in a given
// direction.
type FilterFunc func(a action.Action, m action.Meta) bool

// MapFunc rewrites an action/meta pair crossing the wire in a given
// direction.
type MapFunc func(a action.Action, m action.Meta) (action.Action, action.Meta)

// Options configures a Node. Zero value is a usable, unauthenticated,
// heartbeat-less, unfiltered node.
type Options struct {
	Ping    time.Duration
	Timeout time.Duration
	FixTime bool

	InFilter  FilterFunc
	InMap     MapFunc
	OutFilter FilterFunc
	OutMap    MapFunc

	Auth               AuthFunc
	SubprotocolMatcher func(remote string) bool
	Credentials        any
	Subprotocol        string

	Timer func() int64

	Token string

	Logger zerolog.Logger
}

// Option configures a Node at construction.
type Option func(*Options)

func WithPing(d time.Duration) Option           { return func(o *Options) { o.Ping = d } }
func WithTimeout(d time.Duration) Option        { return func(o *Options) { o.Timeout = d } }
func WithFixTime(enabled bool) Option           { return func(o *Options) { o.FixTime = enabled } }
func WithInFilter(fn FilterFunc) Option         { return func(o *Options) { o.InFilter = fn } }
func WithInMap(fn MapFunc) Option               { return func(o *Options) { o.InMap = fn } }
func WithOutFilter(fn FilterFunc) Option        { return func(o *Options) { o.OutFilter = fn } }
func WithOutMap(fn MapFunc) Option              { return func(o *Options) { o.OutMap = fn } }
func WithAuth(fn AuthFunc) Option               { return func(o *Options) { o.Auth = fn } }
func WithCredentials(v any) Option              { return func(o *Options) { o.Credentials = v } }
func WithSubprotocol(s string) Option           { return func(o *Options) { o.Subprotocol = s } }
func WithToken(s string) Option                 { return func(o *Options) { o.Token = s } }
func WithTimer(fn func() int64) Option          { return func(o *Options) { o.Timer = fn } }
func WithNodeLogger(l zerolog.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithSubprotocolMatcher(fn func(remote string) bool) Option {
	return func(o *Options) { o.SubprotocolMatcher = fn }
}

func buildOptions(opts ...Option) (Options, error) {
	o := Options{
		Timer:  func() int64 { return time.Now().UnixMilli() },
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Ping > 0 && o.Timeout <= 0 {
		return Options{}, errors.New("node: Ping requires a positive Timeout")
	}
	return o, nil
}
