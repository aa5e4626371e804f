package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/dwell/internal/watchlist"
	"github.com/spf13/cobra"
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage the watched hostnames",
	Long:  `List, add, remove or toggle the hostnames whose time is tracked by the running daemon.`,
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched hostnames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchlistRequest(cmd, "GET", "/v1/watchlist")
	},
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add <hostname|url>...",
	Short: "Start tracking hostnames",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return eachHostname(cmd, args, func(host string) error {
			return watchlistRequest(cmd, "POST", "/v1/watchlist/"+url.PathEscape(host))
		})
	},
}

var watchlistRemoveCmd = &cobra.Command{
	Use:     "remove <hostname|url>...",
	Aliases: []string{"rm"},
	Short:   "Stop tracking hostnames",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return eachHostname(cmd, args, func(host string) error {
			return watchlistRequest(cmd, "DELETE", "/v1/watchlist/"+url.PathEscape(host))
		})
	},
}

var watchlistToggleCmd = &cobra.Command{
	Use:   "toggle <hostname|url>",
	Short: "Toggle tracking of a hostname",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchlistToggle,
}

func init() {
	watchlistCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Daemon URL (defaults to the configured bridge address)")
	watchlistCmd.AddCommand(watchlistListCmd, watchlistAddCmd, watchlistRemoveCmd, watchlistToggleCmd)
	rootCmd.AddCommand(watchlistCmd)
}

// eachHostname normalises every argument locally so typos fail before any
// request is sent.
func eachHostname(cmd *cobra.Command, args []string, fn func(string) error) error {
	hosts, err := watchlist.Normalize(args)
	if err != nil {
		return err
	}
	for _, host := range hosts {
		if err := fn(host); err != nil {
			return err
		}
	}
	return nil
}

func watchlistRequest(cmd *cobra.Command, method, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var body struct {
		Hostnames []string `json:"hostnames"`
	}
	if err := client.do(commandContext(cmd), method, path, nil, nil, &body); err != nil {
		return err
	}

	if len(body.Hostnames) == 0 {
		_, _ = color.New(color.Faint).Fprintln(os.Stdout, "watchlist is empty")
		return nil
	}
	for _, host := range body.Hostnames {
		_, _ = fmt.Fprintln(os.Stdout, host)
	}
	return nil
}

func runWatchlistToggle(cmd *cobra.Command, args []string) error {
	hosts, err := watchlist.Normalize(args)
	if err != nil {
		return err
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var result struct {
		Hostname string `json:"hostname"`
		Watched  bool   `json:"watched"`
	}
	path := "/v1/watchlist/" + url.PathEscape(hosts[0]) + "/toggle"
	if err := client.do(commandContext(cmd), "POST", path, nil, nil, &result); err != nil {
		return err
	}

	if result.Watched {
		_, _ = color.New(color.FgGreen).Fprintf(os.Stdout, "%s is now watched\n", result.Hostname)
	} else {
		_, _ = color.New(color.FgYellow).Fprintf(os.Stdout, "%s is no longer watched\n", result.Hostname)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
