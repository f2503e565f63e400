package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/zoobzio/statez"
)

// ErrKeyNotFound is returned when a key has no stored value.
var ErrKeyNotFound = errors.New("key not found")

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the stored value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			return withStorage(ctx, rootOpts, func(s statez.Storage) error {
				data, ok, err := s.Read(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s", ErrKeyNotFound, args[0])
				}
				return printValue(cmd.OutOrStdout(), data, path)
			})
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "gjson path to extract from the value")
	return cmd
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Long: `Store a value under a key. The value is checked against --format
before it is written: "json" and "yaml" must parse, "raw" is written as is.
Use "-" as the value to read it from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := []byte(args[1])
			if args[1] == "-" {
				var err error
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if err := checkFormat(format, data); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			return withStorage(ctx, rootOpts, func(s statez.Storage) error {
				return s.Write(ctx, args[0], data)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "value format (json|yaml|raw)")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key from storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			return withStorage(ctx, rootOpts, func(s statez.Storage) error {
				d, ok := s.(statez.Deleter)
				if !ok {
					return statez.ErrDeleteUnsupported
				}
				return d.Delete(ctx, args[0])
			})
		},
	}
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "watch <key>",
		Short: "Print the value of a key every time it changes",
		Long: `Print the current value of a key, then every new value written to it,
one per line, until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorage(ctx, rootOpts, func(s statez.Storage) error {
				w, ok := s.(statez.WatchableStorage)
				if !ok {
					return statez.ErrWatchUnsupported
				}
				ch, err := w.Watch(ctx, args[0])
				if err != nil {
					return err
				}
				for data := range ch {
					if err := printValue(cmd.OutOrStdout(), data, path); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "gjson path to extract from each value")
	return cmd
}

func printValue(w io.Writer, data []byte, path string) error {
	if path != "" {
		result := gjson.GetBytes(data, path)
		if !result.Exists() {
			return fmt.Errorf("%w: %s", statez.ErrResponsePath, path)
		}
		data = []byte(result.Raw)
	}
	_, err := fmt.Fprintln(w, string(data))
	return err
}

func checkFormat(format string, data []byte) error {
	switch format {
	case "json":
		if !json.Valid(data) {
			return fmt.Errorf("value is not valid JSON")
		}
	case "yaml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("value is not valid YAML: %w", err)
		}
	case "raw":
	default:
		return fmt.Errorf("invalid format %q: must be one of [json yaml raw]", format)
	}
	return nil
}
