package commands

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func signCmd() *cobra.Command {
	var (
		useCache bool
		send     bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sign METHOD URL [key=value ...]",
		Short: "Print the Authorization header for one API request",
		Long: "Signs METHOD URL with the live session token. URL is absolute or relative to the " +
			"configured API root. Extra key=value arguments are " +
			"form parameters that take part in the signature. With --send the request is " +
			"also performed and the response printed.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			rawURL := args[1]
			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}

			s, err := openSession(useCache)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			path := strings.TrimPrefix(rawURL, s.client.BaseURL())
			if !send {
				if path == rawURL && !strings.Contains(rawURL, "://") {
					rawURL = s.client.BaseURL() + "/" + strings.TrimLeft(rawURL, "/")
				}
				header, err := s.manager.SignRequest(ctx, method, rawURL, params)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, header)
				return nil
			}

			var body io.Reader
			if len(params) > 0 {
				body = strings.NewReader(params.Encode())
			}
			if strings.Contains(path, "://") {
				return fmt.Errorf("%s is outside the API root %s", rawURL, s.client.BaseURL())
			}
			req, err := s.client.NewRequest(ctx, method, path, body)
			if err != nil {
				return err
			}
			if body != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			resp, err := s.client.Do(ctx, req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			fmt.Fprintf(out, "%s\n", resp.Status)
			_, err = io.Copy(out, resp.Body)
			fmt.Fprintln(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&useCache, "cache", false, "use and update the gateway's token cache")
	cmd.Flags().BoolVar(&send, "send", false, "send the signed request and print the response")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}

// parseParams turns key=value arguments into form values.
func parseParams(args []string) (url.Values, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := url.Values{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		params.Add(k, v)
	}
	return params, nil
}
