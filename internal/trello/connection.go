package trello

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissingConnectionData is returned when credentials cannot be parsed
var ErrMissingConnectionData = errors.New("missing connection data")

// Credentials authenticate every Trello request
type Credentials struct {
	APIKey string
	Token  string
}

// ParseConnectionKey parses a connection key of the form "key=<api key>&token=<token>"
func ParseConnectionKey(key string) (Credentials, error) {
	if strings.TrimSpace(key) == "" {
		return Credentials{}, fmt.Errorf("%w: empty connection key", ErrMissingConnectionData)
	}

	values, err := url.ParseQuery(key)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: malformed connection key: %v", ErrMissingConnectionData, err)
	}

	creds := Credentials{
		APIKey: strings.TrimSpace(values.Get("key")),
		Token:  strings.TrimSpace(values.Get("token")),
	}
	if creds.APIKey == "" {
		return Credentials{}, fmt.Errorf("%w: api key is missing", ErrMissingConnectionData)
	}
	if creds.Token == "" {
		return Credentials{}, fmt.Errorf("%w: token is missing", ErrMissingConnectionData)
	}
	return creds, nil
}

// authorizationHeader is the OAuth header accepted for attachment downloads
func (c Credentials) authorizationHeader() string {
	return fmt.Sprintf(`OAuth oauth_consumer_key="%s", oauth_token="%s"`, c.APIKey, c.Token)
}
