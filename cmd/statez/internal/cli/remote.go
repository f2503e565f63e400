package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zoobzio/statez"
)

// RemoteOptions configures the HTTP side of push and pull.
type RemoteOptions struct {
	Endpoint     string
	Method       string
	Headers      []string
	Codec        string
	ResponsePath string
	Retries      int
	RetryDelay   time.Duration
}

func (o *RemoteOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Endpoint, "endpoint", "e", "", "remote endpoint URL")
	cmd.Flags().StringVarP(&o.Method, "method", "m", http.MethodPost, "HTTP method for outbound writes")
	cmd.Flags().StringArrayVarP(&o.Headers, "header", "H", nil, `request header as "Name: value" (repeatable)`)
	cmd.Flags().StringVar(&o.Codec, "codec", "json", "value encoding (json|yaml)")
	cmd.Flags().StringVar(&o.ResponsePath, "response-path", "", "gjson path of the value in inbound responses")
	cmd.Flags().IntVar(&o.Retries, "retries", 0, "retry attempts for failed requests")
	cmd.Flags().DurationVar(&o.RetryDelay, "retry-delay", 200*time.Millisecond, "base delay between retries")
	_ = cmd.MarkFlagRequired("endpoint")
}

func (o *RemoteOptions) codec() (statez.Codec, error) {
	switch o.Codec {
	case "json":
		return statez.JSONCodec{}, nil
	case "yaml":
		return statez.YAMLCodec{}, nil
	}
	return nil, fmt.Errorf("invalid codec %q: must be one of [json yaml]", o.Codec)
}

// errorSink keeps the first error reported by a plugin.
type errorSink struct {
	mu  sync.Mutex
	err error
}

func (e *errorSink) record(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

func (e *errorSink) get() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// openStore builds a store that persists key to s and syncs with the remote
// endpoint. The inbound read runs during Start.
func openStore(ctx context.Context, s statez.Storage, key string, o *RemoteOptions, sink *errorSink) (*statez.Store[any], error) {
	codec, err := o.codec()
	if err != nil {
		return nil, err
	}

	remote := statez.Sync[any](o.Endpoint).
		Method(o.Method).
		Codec(codec).
		OnError(sink.record).
		SyncMode()
	for _, h := range o.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q: expected \"Name: value\"", h)
		}
		remote.Header(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if o.ResponsePath != "" {
		remote.ResponsePath(o.ResponsePath)
	}
	if o.Retries > 0 {
		remote.Retry(o.Retries, o.RetryDelay)
	}

	persist := statez.Persist[any](s, key).Codec(codec).OnError(sink.record)

	store := statez.New[any](nil, persist, remote).Name(key)
	if err := store.Start(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	remoteOpts := &RemoteOptions{}

	cmd := &cobra.Command{
		Use:   "push <key>",
		Short: "Send the stored value of a key to a remote endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			key := args[0]
			return withStorage(ctx, rootOpts, func(s statez.Storage) error {
				if _, ok, err := s.Read(ctx, key); err != nil {
					return err
				} else if !ok {
					return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
				}

				store, err := openStore(ctx, s, key, remoteOpts, &errorSink{})
				if err != nil {
					return err
				}
				defer store.Close()

				persistence, _ := store.Persistence()
				remote, _ := store.Remote()

				// The stored value wins over whatever the remote returned at start.
				if err := persistence.Rehydrate(ctx); err != nil {
					return err
				}
				if err := remote.Flush(ctx); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "pushed %s to %s\n", key, remoteOpts.Endpoint)
				return nil
			})
		},
	}

	remoteOpts.bind(cmd)
	return cmd
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	remoteOpts := &RemoteOptions{}

	cmd := &cobra.Command{
		Use:   "pull <key>",
		Short: "Fetch a value from a remote endpoint and store it under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			key := args[0]
			return withStorage(ctx, rootOpts, func(s statez.Storage) error {
				sink := &errorSink{}
				store, err := openStore(ctx, s, key, remoteOpts, sink)
				if err != nil {
					return err
				}
				defer store.Close()

				if err := sink.get(); err != nil {
					return err
				}

				persistence, _ := store.Persistence()
				if err := persistence.Flush(ctx); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "pulled %s from %s\n", key, remoteOpts.Endpoint)
				return nil
			})
		},
	}

	remoteOpts.bind(cmd)
	return cmd
}
