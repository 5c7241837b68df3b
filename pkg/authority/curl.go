package authority

import (
	"path"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/reqkey"
)

// curl options whose value is the next argument and which do not affect
// the rule key.
var curlValueFlags = flagSet(
	"-H", "--header",
	"-A", "--user-agent",
	"-e", "--referer",
	"-u", "--user",
	"-b", "--cookie",
	"-c", "--cookie-jar",
	"-o", "--output",
	"-m", "--max-time",
	"-x", "--proxy",
	"-w", "--write-out",
	"--connect-timeout",
	"--retry",
	"--cacert",
	"--cert",
	"--key",
	"--resolve",
)

var curlDataFlags = flagSet(
	"-d", "--data",
	"--data-raw",
	"--data-binary",
	"--data-ascii",
	"--data-urlencode",
	"--json",
	"-F", "--form",
	"-T", "--upload-file",
)

func flagSet(flags ...string) map[string]bool {
	out := make(map[string]bool, len(flags))
	for _, f := range flags {
		out[f] = true
	}
	return out
}

// ImportCurl turns a curl command line into an enabled rule answering
// 200 OK with an empty body. The method follows curl: an explicit -X wins,
// then -I (HEAD), then -G (GET), then any data option (POST), else GET.
func ImportCurl(command string) (api.Rule, error) {
	command = strings.ReplaceAll(command, "\\\r\n", " ")
	command = strings.ReplaceAll(command, "\\\n", " ")
	args, err := shellquote.Split(command)
	if err != nil {
		return api.Rule{}, errx.Wrap(ErrParseCurl, err)
	}
	if len(args) == 0 || path.Base(args[0]) != "curl" {
		return api.Rule{}, ErrCurlCommand
	}

	var (
		explicit string
		rawURL   string
		head     bool
		get      bool
		hasData  bool
	)
	for i := 1; i < len(args); i++ {
		arg := args[i]
		next := func() (string, error) {
			if i+1 >= len(args) {
				return "", errx.With(ErrParseCurl, ": %s needs a value", arg)
			}
			i++
			return args[i], nil
		}

		switch {
		case arg == "-X" || arg == "--request":
			v, err := next()
			if err != nil {
				return api.Rule{}, err
			}
			explicit = v
		case strings.HasPrefix(arg, "-X") && len(arg) > 2:
			explicit = arg[2:]
		case strings.HasPrefix(arg, "--request="):
			explicit = strings.TrimPrefix(arg, "--request=")
		case arg == "--url":
			v, err := next()
			if err != nil {
				return api.Rule{}, err
			}
			rawURL = v
		case arg == "-I" || arg == "--head":
			head = true
		case arg == "-G" || arg == "--get":
			get = true
		case curlDataFlags[arg]:
			if _, err := next(); err != nil {
				return api.Rule{}, err
			}
			hasData = true
		case isDataAssign(arg):
			hasData = true
		case curlValueFlags[arg]:
			if _, err := next(); err != nil {
				return api.Rule{}, err
			}
		case strings.HasPrefix(arg, "-"):
			// Value-less switches such as -s, -L, -k, --compressed.
		default:
			if rawURL == "" {
				rawURL = arg
			}
		}
	}

	if rawURL == "" {
		return api.Rule{}, ErrCurlURL
	}

	method := "GET"
	switch {
	case explicit != "":
		method = explicit
	case head:
		method = "HEAD"
	case get:
		method = "GET"
	case hasData:
		method = "POST"
	}
	method = reqkey.Method(method)
	url := reqkey.URL("", rawURL)

	return api.Rule{
		Name:    method + " " + url,
		Enabled: true,
		Request: api.RuleRequest{URL: url, Method: method},
		Response: api.MockResponse{
			Status:     200,
			StatusText: "OK",
		},
	}, nil
}

func isDataAssign(arg string) bool {
	for flag := range curlDataFlags {
		if strings.HasPrefix(flag, "--") && strings.HasPrefix(arg, flag+"=") {
			return true
		}
	}
	return false
}
