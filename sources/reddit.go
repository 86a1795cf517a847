package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kova98/feedgrep.ingest/models"
)

const (
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	DefaultAPIURL   = "https://oauth.reddit.com"
)

type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

type options struct {
	tokenURL        string
	apiURL          string
	httpClient      *http.Client
	requestTimeout  time.Duration
	minPollInterval time.Duration
	maxPollInterval time.Duration
	maxFailures     int
	retryDelay      time.Duration
}

type Option func(*options)

// WithEndpoints overrides the token and API base URLs.
func WithEndpoints(tokenURL, apiURL string) Option {
	return func(o *options) {
		o.tokenURL = tokenURL
		o.apiURL = strings.TrimRight(apiURL, "/")
	}
}

// WithHTTPClient sets the client whose transport carries every request.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

// WithPollInterval bounds the wait between polls that returned nothing new.
func WithPollInterval(minInterval, maxInterval time.Duration) Option {
	return func(o *options) {
		o.minPollInterval = minInterval
		o.maxPollInterval = maxInterval
	}
}

// WithMaxFailures sets how many consecutive failed polls a subscription tolerates and
// the initial delay between them.
func WithMaxFailures(n int, retryDelay time.Duration) Option {
	return func(o *options) {
		o.maxFailures = n
		o.retryDelay = retryDelay
	}
}

func defaultOptions() options {
	return options{
		tokenURL:        DefaultTokenURL,
		apiURL:          DefaultAPIURL,
		httpClient:      &http.Client{},
		requestTimeout:  15 * time.Second,
		minPollInterval: time.Second,
		maxPollInterval: 16 * time.Second,
		maxFailures:     5,
		retryDelay:      time.Second,
	}
}

// Session is an authenticated reddit client. It is safe for concurrent use.
type Session struct {
	logger *slog.Logger
	client *http.Client
	user   string
	opts   options
}

// passwordTokenSource requests a new token with the password grant. Reddit issues no
// refresh token for script apps, so every expiry repeats the grant.
type passwordTokenSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	return s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
}

// Authenticate obtains a token, verifies the account and checks that every subreddit
// is readable. Any failure is returned as an *AuthenticationError.
func Authenticate(ctx context.Context, logger *slog.Logger, creds Credentials, subreddits []string, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	base := withUserAgent(o.httpClient, creds.UserAgent)
	if base.Timeout == 0 {
		base.Timeout = o.requestTimeout
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  o.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	tokens := oauth2.ReuseTokenSource(nil, &passwordTokenSource{
		ctx:      tokenCtx,
		conf:     conf,
		username: creds.Username,
		password: creds.Password,
	})

	if _, err := tokens.Token(); err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("request token: %w", err)}
	}

	s := &Session{
		logger: logger,
		client: oauth2.NewClient(tokenCtx, tokens),
		opts:   o,
	}

	var me models.RedditUser
	if err := s.getJSON(ctx, "/api/v1/me", nil, &me); err != nil {
		return nil, &AuthenticationError{Err: fmt.Errorf("verify identity: %w", err)}
	}
	if me.Name == "" {
		return nil, &AuthenticationError{Err: errors.New("verify identity: empty account name")}
	}
	s.user = me.Name

	for _, name := range subreddits {
		if err := s.checkSubreddit(ctx, name); err != nil {
			return nil, &AuthenticationError{Subreddit: name, Err: err}
		}
	}

	logger.Info("authenticated with reddit", "user", s.user, "subreddits", subreddits)
	return s, nil
}

func (s *Session) User() string {
	return s.user
}

func (s *Session) checkSubreddit(ctx context.Context, name string) error {
	var about models.RedditSubredditAbout
	if err := s.getJSON(ctx, "/r/"+url.PathEscape(name)+"/about", nil, &about); err != nil {
		return err
	}
	if about.Kind != "t5" {
		return errors.New("subreddit not found")
	}
	if about.Data.UserIsBanned != nil && *about.Data.UserIsBanned {
		return errors.New("account is banned")
	}
	return nil
}

func (s *Session) listing(ctx context.Context, path string) (models.RedditListing, error) {
	query := url.Values{}
	query.Set("limit", "100")
	query.Set("raw_json", "1")

	var listing models.RedditListing
	err := s.getJSON(ctx, path, query, &listing)
	return listing, err
}

func (s *Session) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	if s.opts.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.requestTimeout)
		defer cancel()
	}

	endpoint := s.opts.apiURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// isFatal reports whether retrying a failed request cannot help.
func isFatal(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
		return false
	}

	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return retrieve.Response != nil && retrieve.Response.StatusCode < http.StatusInternalServerError
	}
	return false
}
