// Package pokeapi is a small read-only client for the PokeAPI catalog.
package pokeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/querycache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL = "https://pokeapi.co/api/v2"
	defaultTimeout = 10 * time.Second
	maxBody        = 4 << 20
)

// ErrNotFound matches any StatusError with code 404.
var ErrNotFound = errors.New("Not Found")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	if e.Code == http.StatusNotFound {
		return ErrNotFound.Error()
	}
	return "HTTP " + strconv.Itoa(e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

type Config struct {
	BaseURL    string        // "" => DefaultBaseURL
	Timeout    time.Duration // per request; 0 => 10s
	HTTPClient *http.Client  // nil => http.Client with Timeout
	Logger     querycache.Logger
}

// Client fetches PokeAPI resources. Identical in-flight GETs are collapsed.
type Client struct {
	base string
	http *http.Client
	log  querycache.Logger
	sf   singleflight.Group
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = querycache.NopLogger{}
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: cfg.HTTPClient,
		log:  cfg.Logger,
	}
}

// Pokemon fetches /pokemon/{id}.
func (c *Client) Pokemon(ctx context.Context, id int) (Pokemon, error) {
	var p Pokemon
	err := c.get(ctx, "/pokemon/"+strconv.Itoa(id), &p)
	return p, err
}

// Ability fetches /ability/{name}.
func (c *Client) Ability(ctx context.Context, name string) (Ability, error) {
	var a Ability
	err := c.get(ctx, "/ability/"+url.PathEscape(name), &a)
	return a, err
}

// List fetches one page of /pokemon.
func (c *Client) List(ctx context.Context, offset, limit int) (PokemonList, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var l PokemonList
	err := c.get(ctx, "/pokemon?"+q.Encode(), &l)
	return l, err
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	body, err, shared := c.sf.Do(path, func() (any, error) {
		return c.fetch(ctx, path)
	})
	if err != nil {
		return err
	}
	if shared {
		c.log.Debug("pokeapi request shared", querycache.Fields{"path": path})
	}
	if err := json.Unmarshal(body.([]byte), dst); err != nil {
		return fmt.Errorf("pokeapi: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("pokeapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pokeapi: GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("pokeapi GET", querycache.Fields{"path": path, "status": resp.StatusCode, "took": time.Since(start)})
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Path: path}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("pokeapi: read %s: %w", path, err)
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("pokeapi: %s: response exceeds %d bytes", path, maxBody)
	}
	return body, nil
}
