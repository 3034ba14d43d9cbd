// Package ecoledirecte implements the minimal roster client used by the
// student sync. Only the read endpoints needed to mirror classes and students
// are covered; authentication is a static API token issued by the
// institution's EcoleDirecte account.
package ecoledirecte

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RosterClass is a class group as exposed by the roster.
type RosterClass struct {
	ID    string `json:"id"`
	Name  string `json:"libelle"`
	Level string `json:"niveau"`
}

// RosterStudent is a student as exposed by the roster.
type RosterStudent struct {
	ID        string `json:"id"`
	FirstName string `json:"prenom"`
	LastName  string `json:"nom"`
	ClassID   string `json:"classeId"`
}

type rosterResponse struct {
	Classes  []RosterClass   `json:"classes"`
	Students []RosterStudent `json:"eleves"`
}

// Client talks to the EcoleDirecte roster API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a roster client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchRoster downloads the current classes and students.
func (c *Client) FetchRoster(ctx context.Context) ([]RosterClass, []RosterStudent, error) {
	endpoint, err := url.JoinPath(c.baseURL, "/v3/eleves.awp")
	if err != nil {
		return nil, nil, fmt.Errorf("build roster url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build roster request: %w", err)
	}
	req.Header.Set("X-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch roster: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch roster: unexpected status %d", resp.StatusCode)
	}

	var payload rosterResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("decode roster: %w", err)
	}
	return payload.Classes, payload.Students, nil
}
