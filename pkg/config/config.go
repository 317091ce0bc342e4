// Package config resolves chatstream settings from flags, CHATSTREAM_*
// environment variables and the YAML file clay.InitViper loads, in that
// order of precedence.
package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatstream/pkg/session"
	"github.com/go-go-golems/chatstream/pkg/transport"
)

const (
	AppName   = "chatstream"
	EnvPrefix = "CHATSTREAM"

	DefaultEndpoint = "http://localhost:8000/api/v1/chat"

	KeyEndpoint        = "endpoint"
	KeyAPIKey          = "api-key"
	KeyAPIKeyHeader    = "api-key-header"
	KeyHeaders         = "headers"
	KeyRequestIDHeader = "request-id-header"
	KeyTimeout         = "timeout"
	KeyMode            = "mode"
	KeySessionID       = "session-id"
)

// Settings is everything a command needs to build a transport client and a
// session controller.
type Settings struct {
	Endpoint        string            `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey          string            `mapstructure:"api-key" yaml:"api-key,omitempty"`
	APIKeyHeader    string            `mapstructure:"api-key-header" yaml:"api-key-header"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	RequestIDHeader string            `mapstructure:"request-id-header" yaml:"request-id-header"`
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Mode            string            `mapstructure:"mode" yaml:"mode"`
	SessionID       string            `mapstructure:"session-id" yaml:"session-id,omitempty"`
}

// AddFlags registers the persistent flags shared by every subcommand. The
// config file and log flags come from clay.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(KeyEndpoint, DefaultEndpoint, "chat endpoint URL")
	fs.String(KeyAPIKey, "", "API key sent with every request")
	fs.String(KeyAPIKeyHeader, transport.DefaultAPIKeyHeader, "header carrying the API key")
	fs.StringToString(KeyHeaders, nil, "extra request headers (key=value,...)")
	fs.String(KeyRequestIDHeader, transport.DefaultRequestIDHeader, "response header carrying the request id")
	fs.Duration(KeyTimeout, 0, "bound on a whole attempt, 0 disables it")
	fs.String(KeyMode, string(session.ModeStream), "reply mode: stream or complete")
	fs.String(KeySessionID, "", "resume an existing session id")
}

// BindFlags binds fs to v and maps dashed keys onto CHATSTREAM_* variables.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return errors.Wrap(err, "failed to bind flags")
	}
	return nil
}

// Load reads Settings out of an initialised viper instance.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	s.Headers = map[string]string{}
	for k, val := range v.GetStringMapString(KeyHeaders) {
		s.Headers[http.CanonicalHeaderKey(k)] = val
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if !strings.HasPrefix(s.Endpoint, "http://") && !strings.HasPrefix(s.Endpoint, "https://") {
		return errors.Errorf("endpoint %q must be an http(s) URL", s.Endpoint)
	}
	if s.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	if _, err := session.ParseMode(s.Mode); err != nil {
		return errors.Wrap(err, "invalid mode")
	}
	return nil
}

// ClientOptions translates the settings into transport options.
func (s *Settings) ClientOptions() []transport.Option {
	opts := []transport.Option{
		transport.WithAPIKey(s.APIKeyHeader, s.APIKey),
		transport.WithTimeout(s.Timeout),
	}
	if s.RequestIDHeader != "" {
		opts = append(opts, transport.WithRequestIDHeader(s.RequestIDHeader))
	}
	for k, v := range s.Headers {
		opts = append(opts, transport.WithHeader(k, v))
	}
	return opts
}

// SessionOptions translates the settings into controller options.
func (s *Settings) SessionOptions() ([]session.Option, error) {
	mode, err := session.ParseMode(s.Mode)
	if err != nil {
		return nil, err
	}
	opts := []session.Option{session.WithMode(mode)}
	if s.SessionID != "" {
		opts = append(opts, session.WithSessionID(s.SessionID))
	}
	return opts, nil
}

// NewController builds the transport client and a controller on top of it.
func (s *Settings) NewController(extra ...session.Option) (*session.Controller, *transport.Client, error) {
	client, err := transport.NewClient(s.Endpoint, s.ClientOptions()...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create transport client")
	}
	opts, err := s.SessionOptions()
	if err != nil {
		return nil, nil, err
	}
	c, err := session.NewController(client, append(opts, extra...)...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create session controller")
	}
	return c, client, nil
}
