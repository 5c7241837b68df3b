package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportCurl(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		wantURL    string
		wantMethod string
	}{
		{name: "plain get", command: `curl https://api.x/users`, wantURL: "https://api.x/users", wantMethod: "GET"},
		{name: "explicit method", command: `curl -X delete 'https://api.x/users/1'`, wantURL: "https://api.x/users/1", wantMethod: "DELETE"},
		{name: "attached method", command: `curl -XPUT https://api.x/u`, wantURL: "https://api.x/u", wantMethod: "PUT"},
		{name: "request equals", command: `curl --request=PATCH https://api.x/u`, wantURL: "https://api.x/u", wantMethod: "PATCH"},
		{name: "data implies post", command: `curl https://api.x/users -H 'Content-Type: application/json' -d '{"name":"a b"}'`, wantURL: "https://api.x/users", wantMethod: "POST"},
		{name: "data-raw equals form", command: `curl --data-raw='x=1' https://api.x/f`, wantURL: "https://api.x/f", wantMethod: "POST"},
		{name: "head", command: `curl -I https://api.x/`, wantURL: "https://api.x/", wantMethod: "HEAD"},
		{name: "get with data", command: `curl -G -d q=1 https://api.x/search`, wantURL: "https://api.x/search", wantMethod: "GET"},
		{name: "explicit beats data", command: `curl -X PUT --data x https://api.x/u`, wantURL: "https://api.x/u", wantMethod: "PUT"},
		{name: "url flag", command: `curl -s --url https://API.X -L`, wantURL: "https://api.x/", wantMethod: "GET"},
		{name: "line continuations", command: "curl 'https://api.x/users' \\\n  -H 'Accept: */*' \\\n  --compressed", wantURL: "https://api.x/users", wantMethod: "GET"},
		{name: "full path binary", command: `/usr/bin/curl https://api.x/a`, wantURL: "https://api.x/a", wantMethod: "GET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := ImportCurl(tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, rule.Request.URL)
			assert.Equal(t, tt.wantMethod, rule.Request.Method)
			assert.True(t, rule.Enabled)
			assert.Equal(t, 200, rule.Response.Status)
			assert.Equal(t, "OK", rule.Response.StatusText)
			assert.Empty(t, rule.Response.Body)
		})
	}
}

func TestImportCurl_Errors(t *testing.T) {
	_, err := ImportCurl(`wget https://a/`)
	assert.ErrorIs(t, err, ErrCurlCommand)

	_, err = ImportCurl(`curl -H 'X: y'`)
	assert.ErrorIs(t, err, ErrCurlURL)

	_, err = ImportCurl(`curl 'https://a/`)
	assert.ErrorIs(t, err, ErrParseCurl)

	_, err = ImportCurl(`curl https://a/ -X`)
	assert.ErrorIs(t, err, ErrParseCurl)

	_, err = ImportCurl(``)
	assert.ErrorIs(t, err, ErrCurlCommand)
}
