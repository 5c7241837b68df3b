package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/relay"
	"github.com/jingkaihe/mocklock/pkg/shim"
	"github.com/jingkaihe/mocklock/pkg/xhr"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Perform one request through the shim against a running server",
	Long: `Perform one request through an installed shim. The relay decides whether the
request is answered by a mock rule or sent to the network; the response is
printed either way.`,
	Example: `  mocklock fetch https://api.example.com/users
  mocklock fetch -X POST -d '{"name":"a"}' https://api.example.com/users
  mocklock fetch --xhr --include /users --origin https://api.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("socket", defaultSocketPath(), "Relay Unix socket path")
	fetchCmd.Flags().String("codec", "json", "Relay wire codec: json or cbor")
	fetchCmd.Flags().StringP("method", "X", "GET", "HTTP method")
	fetchCmd.Flags().StringArrayP("header", "H", nil, "Request header 'Name: value' (repeatable)")
	fetchCmd.Flags().StringP("data", "d", "", "Request body")
	fetchCmd.Flags().String("origin", "", "Origin used to resolve relative URLs")
	fetchCmd.Flags().Duration("timeout", shim.DefaultTimeout, "Decision timeout")
	fetchCmd.Flags().Duration("request-timeout", 30*time.Second, "Overall request timeout")
	fetchCmd.Flags().BoolP("include", "i", false, "Print the status line and response headers")
	fetchCmd.Flags().Bool("xhr", false, "Use the stateful request primitive instead of fetch")

	viper.BindPFlag("fetch.socket", fetchCmd.Flags().Lookup("socket"))
	viper.BindPFlag("fetch.codec", fetchCmd.Flags().Lookup("codec"))
	viper.BindPFlag("fetch.origin", fetchCmd.Flags().Lookup("origin"))
	viper.BindPFlag("fetch.timeout", fetchCmd.Flags().Lookup("timeout"))

	rootCmd.AddCommand(fetchCmd)
}

// fetchResult is what both primitives report back for printing.
type fetchResult struct {
	Status     int
	StatusText string
	Headers    string
	Body       string
}

func runFetch(cmd *cobra.Command, args []string) error {
	method, _ := cmd.Flags().GetString("method")
	headerSpecs, _ := cmd.Flags().GetStringArray("header")
	data, _ := cmd.Flags().GetString("data")
	include, _ := cmd.Flags().GetBool("include")
	useXHR, _ := cmd.Flags().GetBool("xhr")
	requestTimeout, _ := cmd.Flags().GetDuration("request-timeout")

	headers, err := parseHeaders(headerSpecs)
	if err != nil {
		return err
	}
	codec, err := relay.CodecByName(viper.GetString("fetch.codec"))
	if err != nil {
		return errx.Wrap(ErrInvalidCodec, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	port, err := relay.Dial(ctx, viper.GetString("fetch.socket"), codec)
	if err != nil {
		return errx.Wrap(ErrDialRelay, err)
	}
	s := shim.Install(port, shim.Options{
		Origin:  viper.GetString("fetch.origin"),
		Timeout: viper.GetDuration("fetch.timeout"),
	})
	defer s.Close()

	var body []byte
	if cmd.Flags().Changed("data") {
		body = []byte(data)
	}

	var res fetchResult
	if useXHR {
		res, err = fetchWithXHR(ctx, s, method, args[0], headers.HTTPHeader(), body)
	} else {
		res, err = fetchWithFetch(ctx, s, method, args[0], headers.HTTPHeader(), body)
	}
	if err != nil {
		return errx.Wrap(ErrFetch, err)
	}

	w := cmd.OutOrStdout()
	if include {
		fmt.Fprintf(w, "%d %s\n", res.Status, res.StatusText)
		if res.Headers != "" {
			fmt.Fprintln(w, res.Headers)
		}
		fmt.Fprintln(w)
	}
	_, err = io.WriteString(w, res.Body)
	return err
}

func fetchWithFetch(ctx context.Context, s *shim.Shim, method, rawURL string, header http.Header, body []byte) (fetchResult, error) {
	input := shim.NormalizeURL(s.Origin(), rawURL)
	resp, err := s.Fetch(ctx, input, &shim.RequestInit{Method: method, Header: header, Body: body})
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetchResult{}, err
	}
	return fetchResult{
		Status:     resp.StatusCode,
		StatusText: reasonPhrase(resp),
		Headers:    api.FromHTTPHeader(resp.Header).Lines(),
		Body:       string(data),
	}, nil
}

func fetchWithXHR(ctx context.Context, s *shim.Shim, method, rawURL string, header http.Header, body []byte) (fetchResult, error) {
	r := s.NewXHR()
	if err := r.Open(method, shim.NormalizeURL(s.Origin(), rawURL)); err != nil {
		return fetchResult{}, err
	}
	for name, values := range header {
		for _, v := range values {
			if err := r.SetRequestHeader(name, v); err != nil {
				return fetchResult{}, err
			}
		}
	}
	if err := r.Send(body); err != nil {
		return fetchResult{}, err
	}
	if err := r.Wait(ctx); err != nil {
		r.Abort()
		return fetchResult{}, err
	}
	if err := r.Err(); err != nil {
		return fetchResult{}, err
	}
	if r.ReadyState() != xhr.Done {
		return fetchResult{}, xhr.ErrInvalidState
	}
	return fetchResult{
		Status:     r.Status(),
		StatusText: r.StatusText(),
		Headers:    r.GetAllResponseHeaders(),
		Body:       r.ResponseText(),
	}, nil
}

func reasonPhrase(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
